package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	csvdomain "github.com/smallbiznis/finledger/internal/csvimport/domain"
	obscontext "github.com/smallbiznis/finledger/internal/observability/context"
)

type createImportRequest struct {
	CSVContent string `json:"csv_content"`
}

type createImportFromURLRequest struct {
	URL string `json:"url"`
}

func (s *Server) CreateImport(c *gin.Context) {
	content, err := s.readImportBody(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.imports.RunImport(c.Request.Context(), csvdomain.ImportRequest{
		Content: content,
		Source:  csvdomain.RunSourceUpload,
	})
	if err != nil {
		abortImport(c, resp, err)
		return
	}

	c.Set(obscontext.ImportRunIDKey, resp.RunID)
	c.JSON(http.StatusOK, gin.H{"success": true, "stats": resp})
}

func (s *Server) CreateImportFromURL(c *gin.Context) {
	var req createImportFromURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		AbortWithError(c, newValidationError("url", "required", "url is required"))
		return
	}

	resp, err := s.daily.ImportURL(c.Request.Context(), req.URL)
	if err != nil {
		abortImport(c, resp, err)
		return
	}

	c.Set(obscontext.ImportRunIDKey, resp.RunID)
	c.JSON(http.StatusOK, gin.H{"success": true, "stats": resp})
}

func (s *Server) ListImportRuns(c *gin.Context) {
	var query csvdomain.ListRunsRequest
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, newValidationError("page_size", "invalid_page_size", "invalid page_size"))
		return
	}
	query.PageToken = strings.TrimSpace(query.PageToken)

	resp, err := s.imports.ListRuns(c.Request.Context(), query)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": resp})
}

func (s *Server) GetImportRun(c *gin.Context) {
	resp, err := s.imports.GetRun(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": resp})
}

func (s *Server) ReplayImportRun(c *gin.Context) {
	resp, err := s.imports.Replay(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		abortImport(c, resp, err)
		return
	}

	c.Set(obscontext.ImportRunIDKey, resp.RunID)
	c.JSON(http.StatusOK, gin.H{"success": true, "stats": resp})
}

func (s *Server) RenderImportRunReport(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	pdf, err := s.imports.RenderRunReport(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`inline; filename="import-%s.pdf"`, id))
	c.Data(http.StatusOK, "application/pdf", pdf)
}

// readImportBody accepts a JSON csv_content field, a multipart "file" part or a raw
// text body, all capped at the configured body size.
func (s *Server) readImportBody(c *gin.Context) (string, error) {
	limit := s.settings.Get().MaxBodyBytes
	if limit > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	}

	switch c.ContentType() {
	case gin.MIMEJSON:
		var req createImportRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			return "", bodyError(err)
		}
		return req.CSVContent, nil

	case gin.MIMEMultipartPOSTForm:
		header, err := c.FormFile("file")
		if err != nil {
			if isBodyTooLarge(err) {
				return "", ErrBodyTooLarge
			}
			return "", newValidationError("file", "required", "file is required")
		}
		f, err := header.Open()
		if err != nil {
			return "", err
		}
		defer f.Close()
		raw, err := io.ReadAll(f)
		if err != nil {
			return "", bodyError(err)
		}
		return string(raw), nil

	case "text/csv", gin.MIMEPlain, "application/csv", "":
		raw, err := io.ReadAll(c.Request.Body)
		if err != nil {
			return "", bodyError(err)
		}
		return string(raw), nil

	default:
		return "", ErrUnsupportedBody
	}
}

func bodyError(err error) error {
	if isBodyTooLarge(err) {
		return ErrBodyTooLarge
	}
	return invalidRequestError()
}

func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
