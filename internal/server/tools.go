package server

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"torg12-server/internal/service"
)

// ToolHandler implements the JSON-RPC tools on top of the pipeline service.
// Files are passed inline as base64 ("content"). Paths on the server
// ("filepath", "output_path") are only honoured when localFiles is set,
// which is the case for stdio.
type ToolHandler struct {
	service     *service.Service
	maxFileSize int64
	localFiles  bool
}

func NewToolHandler(svc *service.Service, maxFileSize int64) *ToolHandler {
	return &ToolHandler{service: svc, maxFileSize: maxFileSize}
}

// WithLocalFiles returns a copy of h that reads and writes server paths.
func (h *ToolHandler) WithLocalFiles() *ToolHandler {
	c := *h
	c.localFiles = true
	return &c
}

var errLocalFiles = invalidParams("filepath and output_path are only accepted over stdio; send content instead")

func stringParam(params map[string]interface{}, key string) string {
	v, _ := params[key].(string)
	return v
}

// loadFile reads the workbook named by <prefix>filepath or <prefix>content.
func (h *ToolHandler) loadFile(params map[string]interface{}, prefix string) ([]byte, string, error) {
	if content := stringParam(params, prefix+"content"); content != "" {
		data, err := base64.StdEncoding.DecodeString(content)
		if err != nil {
			return nil, "", invalidParams(fmt.Sprintf("%scontent is not valid base64: %v", prefix, err))
		}
		if int64(len(data)) > h.maxFileSize {
			return nil, "", invalidParams(fmt.Sprintf("%scontent exceeds the file size limit", prefix))
		}
		return data, stringParam(params, prefix+"filename"), nil
	}

	path := stringParam(params, prefix+"filepath")
	if path == "" {
		return nil, "", invalidParams(fmt.Sprintf("%sfilepath or %scontent parameter is required", prefix, prefix))
	}
	if !h.localFiles {
		return nil, "", errLocalFiles
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open workbook: %w", err)
	}
	if info.Size() > h.maxFileSize {
		return nil, "", invalidParams(fmt.Sprintf("%s exceeds the file size limit", path))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read workbook: %w", err)
	}
	return data, filepath.Base(path), nil
}

// checkOutput rejects output_path before any work is done when server paths
// are off.
func (h *ToolHandler) checkOutput(params map[string]interface{}) error {
	if stringParam(params, "output_path") != "" && !h.localFiles {
		return errLocalFiles
	}
	return nil
}

// writeOutput either stores data at output_path or returns it inline.
func (h *ToolHandler) writeOutput(params map[string]interface{}, filename string, data []byte, out map[string]interface{}) (map[string]interface{}, error) {
	out["filename"] = filename
	out["size"] = len(data)

	if path := stringParam(params, "output_path"); path != "" {
		if !h.localFiles {
			return nil, errLocalFiles
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", path, err)
		}
		out["path"] = path
		return out, nil
	}

	out["content"] = base64.StdEncoding.EncodeToString(data)
	return out, nil
}

// Tool: analyze_file
func (h *ToolHandler) AnalyzeFile(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	data, filename, err := h.loadFile(params, "")
	if err != nil {
		return nil, err
	}

	if open, _ := params["open_session"].(bool); open {
		up, err := h.service.Upload(ctx, filename, data)
		if err != nil {
			return nil, err
		}
		sess, err := h.service.Session(up.SessionID)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"session":  up,
			"analysis": sess.Analysis,
		}, nil
	}

	analysis, err := h.service.Analyze(ctx, data)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"analysis": analysis}, nil
}

// Tool: modify_file
func (h *ToolHandler) ModifyFile(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	if err := h.checkOutput(params); err != nil {
		return nil, err
	}
	text := stringParam(params, "text")
	filename := stringParam(params, "filename")

	if token := stringParam(params, "session_token"); token != "" {
		sess, err := h.service.Sessions().Resolve(token)
		if err != nil {
			return nil, err
		}
		result, err := h.service.ModifySession(ctx, sess.ID, text, filename)
		if err != nil {
			return nil, err
		}
		return h.writeOutput(params, result.Filename, result.Data, map[string]interface{}{
			"content_type": result.ContentType,
			"warnings":     result.Warnings,
		})
	}

	data, _, err := h.loadFile(params, "")
	if err != nil {
		return nil, err
	}
	result, err := h.service.Modify(ctx, data, text, filename)
	if err != nil {
		return nil, err
	}
	return h.writeOutput(params, result.Filename, result.Data, map[string]interface{}{
		"content_type": result.ContentType,
		"warnings":     result.Warnings,
	})
}

// Tool: validate_file
func (h *ToolHandler) ValidateFile(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	if token := stringParam(params, "session_token"); token != "" {
		sess, err := h.service.Sessions().Resolve(token)
		if err != nil {
			return nil, err
		}
		var data []byte
		if stringParam(params, "content") != "" || stringParam(params, "filepath") != "" {
			if data, _, err = h.loadFile(params, ""); err != nil {
				return nil, err
			}
		}
		return h.service.ValidateSession(ctx, sess.ID, data)
	}

	produced, _, err := h.loadFile(params, "")
	if err != nil {
		return nil, err
	}
	original, _, err := h.loadFile(params, "original_")
	if err != nil {
		return nil, err
	}
	return h.service.Validate(ctx, produced, original)
}

// Tool: generate_template
func (h *ToolHandler) GenerateTemplate(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	if err := h.checkOutput(params); err != nil {
		return nil, err
	}
	data, filename, err := h.service.Template(ctx, stringParam(params, "text"))
	if err != nil {
		return nil, err
	}
	return h.writeOutput(params, filename, data, map[string]interface{}{})
}

func fileProperties(extra map[string]interface{}) map[string]interface{} {
	props := map[string]interface{}{
		"filepath": map[string]interface{}{
			"type":        "string",
			"description": "Path to the workbook on the server (stdio only)",
		},
		"content": map[string]interface{}{
			"type":        "string",
			"description": "Workbook bytes, base64 encoded",
		},
	}
	for k, v := range extra {
		props[k] = v
	}
	return props
}

var (
	textProperty = map[string]interface{}{
		"type":        "string",
		"description": "Free text for the comment cell",
	}
	outputPathProperty = map[string]interface{}{
		"type":        "string",
		"description": "Write the workbook here instead of returning it inline (stdio only)",
	}
	sessionTokenProperty = map[string]interface{}{
		"type":        "string",
		"description": "Token of an upload session opened with analyze_file",
	}
)

func (s *Server) listTools() interface{} {
	return map[string]interface{}{
		"tools": []map[string]interface{}{
			{
				"name":        "analyze_file",
				"description": "Read the first sheet of a TORG-12 workbook: per-cell styles, contents and merged regions",
				"inputSchema": map[string]interface{}{
					"type": "object",
					"properties": fileProperties(map[string]interface{}{
						"open_session": map[string]interface{}{
							"type":        "boolean",
							"description": "Keep the upload in a session and return its token",
							"default":     false,
						},
					}),
				},
			},
			{
				"name":        "modify_file",
				"description": "Write the comment text, apply the special-cell policy and restore original styles",
				"inputSchema": map[string]interface{}{
					"type": "object",
					"properties": fileProperties(map[string]interface{}{
						"text":          textProperty,
						"filename":      map[string]interface{}{"type": "string"},
						"output_path":   outputPathProperty,
						"session_token": sessionTokenProperty,
					}),
					"required": []string{"text"},
				},
			},
			{
				"name":        "validate_file",
				"description": "Compare the styles of a produced workbook with those of the original",
				"inputSchema": map[string]interface{}{
					"type": "object",
					"properties": fileProperties(map[string]interface{}{
						"original_filepath": map[string]interface{}{"type": "string"},
						"original_content":  map[string]interface{}{"type": "string"},
						"session_token":     sessionTokenProperty,
					}),
				},
			},
			{
				"name":        "generate_template",
				"description": "Build a blank TORG-12 header with the text in the placeholder cell",
				"inputSchema": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"text":        textProperty,
						"output_path": outputPathProperty,
					},
				},
			},
		},
	}
}
