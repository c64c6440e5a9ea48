package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type RPCRequest struct {
	JSONRPC string                 `json:"jsonrpc,omitempty"`
	Method  string                 `json:"method"`
	Params  map[string]interface{} `json:"params"`
	ID      interface{}            `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type unknownMethodError struct {
	method string
}

func (e *unknownMethodError) Error() string {
	return fmt.Sprintf("unknown method: %s", e.method)
}

func (s *Server) routeRequest(ctx context.Context, tools *ToolHandler, req *RPCRequest) (interface{}, error) {
	if req.Params == nil {
		req.Params = map[string]interface{}{}
	}

	switch req.Method {
	case "analyze_file":
		return tools.AnalyzeFile(ctx, req.Params)

	case "modify_file":
		return tools.ModifyFile(ctx, req.Params)

	case "validate_file":
		return tools.ValidateFile(ctx, req.Params)

	case "generate_template":
		return tools.GenerateTemplate(ctx, req.Params)

	case "list_tools", "tools/list":
		return s.listTools(), nil

	case "get_server_info":
		return s.getServerInfo(), nil

	case "initialize":
		return s.initialize(), nil

	default:
		return nil, &unknownMethodError{method: req.Method}
	}
}

// dispatch runs one request and builds its response.
func (s *Server) dispatch(ctx context.Context, tools *ToolHandler, req *RPCRequest) RPCResponse {
	resp := RPCResponse{JSONRPC: "2.0", ID: req.ID}

	result, err := s.routeRequest(ctx, tools, req)
	if err != nil {
		code := rpcCode(err)
		if _, ok := err.(*unknownMethodError); ok {
			code = codeMethodNotFound
		}
		s.logger.Warn("Tool call failed",
			zap.String("method", req.Method),
			zap.Int("code", code),
			zap.Error(err),
		)
		resp.Error = &RPCError{Code: code, Message: err.Error()}
		return resp
	}

	resp.Result = result
	return resp
}

func (s *Server) handleRPC(c echo.Context) error {
	var req RPCRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return c.JSON(http.StatusOK, RPCResponse{
			JSONRPC: "2.0",
			Error:   &RPCError{Code: codeParseError, Message: "Parse error"},
		})
	}

	s.logger.Info("Handling RPC request",
		zap.String("method", req.Method),
		zap.Any("id", req.ID),
	)

	ctx, cancel := s.requestContext(c)
	defer cancel()

	// RPC errors are still HTTP 200.
	return c.JSON(http.StatusOK, s.dispatch(ctx, s.tools, &req))
}

// StartStdio serves JSON-RPC requests, one per line, from in to out until
// in is exhausted or ctx is done. Unlike /rpc, tools may read and write
// server paths here.
func (s *Server) StartStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	s.logger = s.logger.With(zap.String("mode", "stdio"))
	tools := s.tools.WithLocalFiles()

	scanner := bufio.NewScanner(in)
	// base64 content is a third larger than the workbook
	scanner.Buffer(make([]byte, 64<<10), int(s.config.MaxFileBytes()*2)+64<<10)
	encoder := json.NewEncoder(out)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req RPCRequest
		if err := json.Unmarshal(line, &req); err != nil {
			if err := encoder.Encode(RPCResponse{
				JSONRPC: "2.0",
				Error:   &RPCError{Code: codeParseError, Message: "Parse error"},
			}); err != nil {
				return err
			}
			continue
		}

		s.logger.Debug("Handling RPC request",
			zap.String("method", req.Method),
			zap.Any("id", req.ID),
		)

		reqCtx, cancel := context.WithTimeout(ctx, s.config.Server.RequestTimeout)
		resp := s.dispatch(reqCtx, tools, &req)
		cancel()

		if err := encoder.Encode(resp); err != nil {
			s.logger.Error("Failed to encode response", zap.Error(err))
			if err := encoder.Encode(RPCResponse{
				JSONRPC: "2.0",
				ID:      req.ID,
				Error:   &RPCError{Code: codeInternalError, Message: "Internal error"},
			}); err != nil {
				return err
			}
		}
	}

	return scanner.Err()
}

func (s *Server) initialize() interface{} {
	return map[string]interface{}{
		"protocolVersion": "2024-11-05",
		"capabilities": map[string]interface{}{
			"tools": map[string]interface{}{},
		},
		"serverInfo": map[string]interface{}{
			"name":    serverName,
			"version": serverVersion,
		},
	}
}

func (s *Server) getServerInfo() interface{} {
	return map[string]interface{}{
		"name":    "TORG-12 Server",
		"version": serverVersion,
		"capabilities": map[string]interface{}{
			"streaming":     true,
			"sessions":      true,
			"compression":   true,
			"templates":     true,
			"max_file_size": s.config.Server.MaxFileSize,
		},
		"policy": map[string]interface{}{
			"comment_cell": s.service.Policy().CommentCell(),
			"cells":        s.service.Policy().Addresses(),
		},
		"limits": map[string]interface{}{
			"max_concurrent_requests": s.config.Server.MaxConcurrentReqs,
			"request_timeout":         s.config.Server.RequestTimeout.String(),
			"max_sessions":            s.config.Cache.MaxSessions,
		},
	}
}
