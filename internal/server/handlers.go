package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"torg12-server/internal/cellref"
	"torg12-server/internal/compression"
	"torg12-server/internal/models"
	"torg12-server/internal/session"
	"torg12-server/internal/streaming"
)

const (
	headerWarnings     = "X-Style-Warnings"
	headerWarningCount = "X-Style-Warning-Count"
	headerSessionToken = "X-Session-Token"
)

// Close releases the session store. Use Shutdown for a running server.
func (s *Server) Close() {
	s.sessions.Close()
}

func (s *Server) handleUpload(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, `multipart field "file" is required`)
	}
	data, err := s.readFormFile(fh)
	if err != nil {
		return err
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	up, err := s.service.Upload(ctx, fh.Filename, data)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, up)
}

func (s *Server) readFormFile(fh *multipart.FileHeader) ([]byte, error) {
	if limit := s.config.MaxFileBytes(); fh.Size > limit {
		return nil, echo.NewHTTPError(http.StatusRequestEntityTooLarge,
			fmt.Sprintf("file exceeds %s", s.config.Server.MaxFileSize))
	}
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	return data, nil
}

// session resolves the :id path parameter. When the client presents a
// session token it must name the same session and match its upload.
func (s *Server) session(c echo.Context) (*session.Session, error) {
	id := c.Param("id")
	if token := c.Request().Header.Get(headerSessionToken); token != "" {
		sess, err := s.sessions.Resolve(token)
		if err != nil {
			return nil, err
		}
		if sess.ID != id {
			return nil, fmt.Errorf("%w: token names another session", session.ErrTokenInvalid)
		}
		return sess, nil
	}
	return s.service.Session(id)
}

func (s *Server) handleDeleteSession(c echo.Context) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	s.sessions.Delete(sess.ID)
	return c.NoContent(http.StatusNoContent)
}

func wantsNDJSON(c echo.Context) bool {
	return c.QueryParam("format") == "ndjson"
}

// writeJSON sends v compressed with the best encoding the client accepts.
func (s *Server) writeJSON(c echo.Context, status int, v interface{}) error {
	body, method, err := s.compressor.EncodeJSON(v, c.Request().Header.Get(echo.HeaderAcceptEncoding))
	if err != nil {
		return err
	}
	h := c.Response().Header()
	h.Add(echo.HeaderVary, echo.HeaderAcceptEncoding)
	if method != compression.MethodNone {
		h.Set(echo.HeaderContentEncoding, method)
	}
	return c.Blob(status, echo.MIMEApplicationJSONCharsetUTF8, body)
}

func (s *Server) streamNDJSON(c echo.Context, write func(io.Writer) error) error {
	c.Response().Header().Set(echo.HeaderContentType, streaming.ContentType)
	c.Response().WriteHeader(http.StatusOK)
	if err := write(c.Response()); err != nil {
		// Headers are gone; report in-band.
		return streaming.NewStreamingResponse(c.Response()).WriteError(err)
	}
	return nil
}

func (s *Server) handleAnalysis(c echo.Context) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}

	if wantsNDJSON(c) {
		return s.streamNDJSON(c, func(w io.Writer) error {
			return streaming.StreamAnalysis(c.Request().Context(), w, sess.Analysis, batchSize(c))
		})
	}

	return s.writeJSON(c, http.StatusOK, map[string]interface{}{
		"session_id": sess.ID,
		"metadata":   sess.Metadata,
		"analysis":   sess.Analysis,
		"index":      sess.Index.GetStats(),
	})
}

func batchSize(c echo.Context) int {
	n, err := strconv.Atoi(c.QueryParam("batch"))
	if err != nil || n <= 0 {
		return streaming.DefaultBatchSize
	}
	return n
}

// handleCells lists recorded cells inside ?range=, or those whose text
// equals ?q=, or all of them.
func (s *Server) handleCells(c echo.Context) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}

	var cells []models.CellStyleRecord
	switch {
	case c.QueryParam("range") != "":
		area, err := cellref.ParseArea(c.QueryParam("range"))
		if err != nil {
			return err
		}
		cells = sess.Index.Range(area)
	case c.QueryParam("q") != "":
		cells = sess.Index.Search(c.QueryParam("q"))
	default:
		cells = sess.Index.All()
	}

	return s.writeJSON(c, http.StatusOK, map[string]interface{}{
		"count": len(cells),
		"cells": cells,
	})
}

type modifyRequest struct {
	Text     string `json:"text" form:"text" query:"text"`
	Filename string `json:"filename" form:"filename" query:"filename"`
}

func (s *Server) handleModify(c echo.Context) error {
	var req modifyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	sess, err := s.session(c)
	if err != nil {
		return err
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	result, err := s.service.ModifySession(ctx, sess.ID, req.Text, req.Filename)
	if err != nil {
		return err
	}

	h := c.Response().Header()
	h.Set(headerWarningCount, strconv.Itoa(len(result.Warnings)))
	if len(result.Warnings) > 0 {
		encoded, err := json.Marshal(result.Warnings)
		if err != nil {
			return err
		}
		h.Set(headerWarnings, string(encoded))
	}
	return s.sendWorkbook(c, result.Filename, result.Data)
}

func (s *Server) sendWorkbook(c echo.Context, filename string, data []byte) error {
	c.Response().Header().Set(echo.HeaderContentDisposition,
		mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	return c.Blob(http.StatusOK, models.XLSXContentType, data)
}

func (s *Server) handleValidate(c echo.Context) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}

	var data []byte
	fh, err := c.FormFile("file")
	switch {
	case err == nil:
		if data, err = s.readFormFile(fh); err != nil {
			return err
		}
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "invalid multipart body")
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	summary, err := s.service.ValidateSession(ctx, sess.ID, data)
	if err != nil {
		return err
	}

	if wantsNDJSON(c) {
		return s.streamNDJSON(c, func(w io.Writer) error {
			return streaming.StreamValidation(ctx, w, summary, batchSize(c))
		})
	}
	return s.writeJSON(c, http.StatusOK, summary)
}

func (s *Server) handleTemplate(c echo.Context) error {
	ctx, cancel := s.requestContext(c)
	defer cancel()

	data, filename, err := s.service.Template(ctx, c.QueryParam("text"))
	if err != nil {
		return err
	}
	return s.sendWorkbook(c, filename, data)
}
