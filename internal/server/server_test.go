package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"torg12-server/internal/models"
	"torg12-server/internal/service"
	"torg12-server/internal/xlsx/xlsxtest"
	"torg12-server/pkg/config"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(config.DefaultConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func workbook(t *testing.T) []byte {
	return xlsxtest.New(t).
		Value("A3", "Грузоотправитель").
		Value("B5", "Поставщик").
		Value("C10", "Итого").
		Style("C10", &excelize.Style{Border: xlsxtest.Thin("bottom")}).
		Bytes()
}

func (s *Server) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func multipartRequest(t *testing.T, method, target string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", "torg12.xlsx")
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(method, target, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func upload(t *testing.T, s *Server) service.Upload {
	t.Helper()
	rec := s.do(t, multipartRequest(t, http.MethodPost, "/api/sessions", workbook(t)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var up service.Upload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &up))
	return up
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestUpload(t *testing.T) {
	s := newTestServer(t)
	up := upload(t, s)

	assert.NotEmpty(t, up.SessionID)
	assert.NotEmpty(t, up.Token)
	assert.Equal(t, "Sheet1", up.Sheet)
	assert.Equal(t, 3, up.Records)
	assert.Equal(t, "torg12.xlsx", up.Metadata.Filename)
}

func TestUploadUnreadable(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, multipartRequest(t, http.MethodPost, "/api/sessions", []byte("not a workbook")))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "unreadable spreadsheet")
}

func TestUploadWithoutFile(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, httptest.NewRequest(http.MethodPost, "/api/sessions", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalysisJSON(t *testing.T) {
	s := newTestServer(t)
	up := upload(t, s)

	rec := s.do(t, httptest.NewRequest(http.MethodGet, "/api/sessions/"+up.SessionID+"/analysis", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, up.SessionID, body["session_id"])
	analysis := body["analysis"].(map[string]interface{})
	assert.Equal(t, "Sheet1", analysis["sheet"])
	assert.Len(t, analysis["records"], 3)
}

func TestAnalysisNDJSON(t *testing.T) {
	s := newTestServer(t)
	up := upload(t, s)

	rec := s.do(t, httptest.NewRequest(http.MethodGet,
		"/api/sessions/"+up.SessionID+"/analysis?format=ndjson&batch=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))

	var types []string
	scanner := bufio.NewScanner(rec.Body)
	for scanner.Scan() {
		var line map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		types = append(types, line["type"].(string))
	}
	require.NotEmpty(t, types)
	assert.Equal(t, "metadata", types[0])
	assert.Equal(t, "complete", types[len(types)-1])

	records := 0
	for _, typ := range types {
		if typ == "records" {
			records++
		}
	}
	assert.Equal(t, 2, records)
}

func TestCells(t *testing.T) {
	s := newTestServer(t)
	up := upload(t, s)
	base := "/api/sessions/" + up.SessionID + "/cells"

	rec := s.do(t, httptest.NewRequest(http.MethodGet, base+"?range=A1:B5", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, decode(t, rec)["count"])

	rec = s.do(t, httptest.NewRequest(http.MethodGet, base+"?q="+url.QueryEscape("итого"), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.EqualValues(t, 1, body["count"])
	cell := body["cells"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "C10", cell["address"])

	rec = s.do(t, httptest.NewRequest(http.MethodGet, base, nil))
	assert.EqualValues(t, 3, decode(t, rec)["count"])

	rec = s.do(t, httptest.NewRequest(http.MethodGet, base+"?range=1A:B", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestModifyAndValidate(t *testing.T) {
	s := newTestServer(t)
	up := upload(t, s)

	req := httptest.NewRequest(http.MethodPost, "/api/sessions/"+up.SessionID+"/modify",
		strings.NewReader(`{"text":"HELLO","filename":"out.xlsx"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := s.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, models.XLSXContentType, rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename=out.xlsx`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "0", rec.Header().Get(headerWarningCount))
	assert.Empty(t, rec.Header().Get(headerWarnings))

	f := xlsxtest.Open(t, rec.Body.Bytes())
	v, err := f.GetCellValue("Sheet1", "AD18")
	require.NoError(t, err)
	assert.Equal(t, "HELLO", v)

	rec = s.do(t, httptest.NewRequest(http.MethodPost, "/api/sessions/"+up.SessionID+"/validate", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	summary := decode(t, rec)
	assert.Equal(t, true, summary["is_valid"])
	assert.EqualValues(t, 0, summary["invalid_cells"])
}

func TestValidateUploadedFile(t *testing.T) {
	s := newTestServer(t)
	up := upload(t, s)

	// Borders dropped from C10.
	produced := xlsxtest.New(t).
		Value("A3", "Грузоотправитель").
		Value("B5", "Поставщик").
		Value("C10", "Итого").
		Bytes()

	rec := s.do(t, multipartRequest(t, http.MethodPost, "/api/sessions/"+up.SessionID+"/validate", produced))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	summary := decode(t, rec)
	assert.Equal(t, false, summary["is_valid"])
	assert.GreaterOrEqual(t, summary["invalid_cells"].(float64), 1.0)
}

func TestSessionErrors(t *testing.T) {
	s := newTestServer(t)
	first := upload(t, s)
	second := upload(t, s)

	rec := s.do(t, httptest.NewRequest(http.MethodGet, "/api/sessions/missing/analysis", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/"+second.SessionID+"/analysis", nil)
	req.Header.Set(headerSessionToken, first.Token)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/sessions/"+first.SessionID+"/analysis", nil)
	req.Header.Set(headerSessionToken, first.Token)
	assert.Equal(t, http.StatusOK, s.do(t, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/sessions/"+first.SessionID+"/analysis", nil)
	req.Header.Set(headerSessionToken, "garbage")
	assert.Equal(t, http.StatusUnauthorized, s.do(t, req).Code)
}

func TestDeleteSession(t *testing.T) {
	s := newTestServer(t)
	up := upload(t, s)

	rec := s.do(t, httptest.NewRequest(http.MethodDelete, "/api/sessions/"+up.SessionID, nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/api/sessions/"+up.SessionID+"/analysis", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTemplate(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, httptest.NewRequest(http.MethodGet, "/api/template?text=Ok", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, `attachment; filename=template-TORG-12.xlsx`, rec.Header().Get("Content-Disposition"))

	f := xlsxtest.Open(t, rec.Body.Bytes())
	v, err := f.GetCellValue(f.GetSheetName(0), "BM4")
	require.NoError(t, err)
	assert.Equal(t, "0330212", v)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)
	upload(t, s)

	rec := s.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode(t, rec)["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode(t, rec)["sessions"])
}

func rpc(t *testing.T, s *Server, body string) map[string]interface{} {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := s.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)
	return decode(t, rec)
}

func rpcError(t *testing.T, resp map[string]interface{}) (int, string) {
	t.Helper()
	e, ok := resp["error"].(map[string]interface{})
	require.True(t, ok, "expected an error, got %v", resp)
	return int(e["code"].(float64)), e["message"].(string)
}

func TestRPCInitializeAndListTools(t *testing.T) {
	s := newTestServer(t)

	resp := rpc(t, s, `{"jsonrpc":"2.0","method":"initialize","id":1}`)
	assert.EqualValues(t, 1, resp["id"])
	info := resp["result"].(map[string]interface{})["serverInfo"].(map[string]interface{})
	assert.Equal(t, serverName, info["name"])

	resp = rpc(t, s, `{"jsonrpc":"2.0","method":"list_tools","id":2}`)
	tools := resp["result"].(map[string]interface{})["tools"].([]interface{})
	var names []string
	for _, tool := range tools {
		names = append(names, tool.(map[string]interface{})["name"].(string))
	}
	assert.Equal(t, []string{"analyze_file", "modify_file", "validate_file", "generate_template"}, names)

	resp = rpc(t, s, `{"jsonrpc":"2.0","method":"get_server_info","id":3}`)
	policy := resp["result"].(map[string]interface{})["policy"].(map[string]interface{})
	assert.Equal(t, "AD18", policy["comment_cell"])
}

func TestRPCErrors(t *testing.T) {
	s := newTestServer(t)

	code, _ := rpcError(t, rpc(t, s, `{"method":"drop_tables","id":1}`))
	assert.Equal(t, codeMethodNotFound, code)

	code, msg := rpcError(t, rpc(t, s, `{"method":"analyze_file","params":{},"id":2}`))
	assert.Equal(t, codeInvalidParams, code)
	assert.Contains(t, msg, "filepath or content")

	code, _ = rpcError(t, rpc(t, s, `{"method":"analyze_file","params":{"content":"%%%"},"id":3}`))
	assert.Equal(t, codeInvalidParams, code)

	code, _ = rpcError(t, rpc(t, s, `{not json`))
	assert.Equal(t, codeParseError, code)

	content := base64.StdEncoding.EncodeToString([]byte("junk"))
	code, msg = rpcError(t, rpc(t, s, `{"method":"analyze_file","params":{"content":"`+content+`"},"id":4}`))
	assert.Equal(t, codeAppError, code)
	assert.Contains(t, msg, "unreadable spreadsheet")
}

func TestRPCAnalyzeAndModify(t *testing.T) {
	s := newTestServer(t)
	content := base64.StdEncoding.EncodeToString(workbook(t))

	resp := rpc(t, s, `{"method":"analyze_file","params":{"content":"`+content+`"},"id":1}`)
	analysis := resp["result"].(map[string]interface{})["analysis"].(map[string]interface{})
	assert.Equal(t, "Sheet1", analysis["sheet"])
	assert.Len(t, analysis["records"], 3)

	resp = rpc(t, s, `{"method":"modify_file","params":{"content":"`+content+`","text":"RPC"},"id":2}`)
	result := resp["result"].(map[string]interface{})
	assert.Equal(t, "modified-document.xlsx", result["filename"])

	data, err := base64.StdEncoding.DecodeString(result["content"].(string))
	require.NoError(t, err)
	f := xlsxtest.Open(t, data)
	v, err := f.GetCellValue("Sheet1", "AD18")
	require.NoError(t, err)
	assert.Equal(t, "RPC", v)

	resp = rpc(t, s, `{"method":"validate_file","params":{"content":"`+result["content"].(string)+
		`","original_content":"`+content+`"},"id":3}`)
	summary := resp["result"].(map[string]interface{})
	assert.Equal(t, true, summary["is_valid"])
}

func TestRPCSessionTools(t *testing.T) {
	s := newTestServer(t)
	content := base64.StdEncoding.EncodeToString(workbook(t))

	resp := rpc(t, s, `{"method":"analyze_file","params":{"content":"`+content+`","filename":"a.xlsx","open_session":true},"id":1}`)
	sess := resp["result"].(map[string]interface{})["session"].(map[string]interface{})
	token := sess["token"].(string)
	require.NotEmpty(t, token)

	resp = rpc(t, s, `{"method":"modify_file","params":{"session_token":"`+token+`","text":"X"},"id":2}`)
	require.Nil(t, resp["error"])

	resp = rpc(t, s, `{"method":"validate_file","params":{"session_token":"`+token+`"},"id":3}`)
	summary := resp["result"].(map[string]interface{})
	assert.Equal(t, true, summary["is_valid"])
}

func TestStdio(t *testing.T) {
	s := newTestServer(t)

	in := strings.Join([]string{
		`{"jsonrpc":"2.0","method":"initialize","id":1}`,
		``,
		`{broken`,
		`{"jsonrpc":"2.0","method":"generate_template","params":{"text":"T"},"id":2}`,
	}, "\n")
	var out bytes.Buffer
	require.NoError(t, s.StartStdio(context.Background(), strings.NewReader(in), &out))

	var responses []RPCResponse
	scanner := bufio.NewScanner(&out)
	scanner.Buffer(nil, 1<<20)
	for scanner.Scan() {
		var resp RPCResponse
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))
		responses = append(responses, resp)
	}
	require.Len(t, responses, 3)

	assert.Nil(t, responses[0].Error)
	require.NotNil(t, responses[1].Error)
	assert.Equal(t, codeParseError, responses[1].Error.Code)

	assert.Nil(t, responses[2].Error)
	result := responses[2].Result.(map[string]interface{})
	assert.Equal(t, "template-TORG-12.xlsx", result["filename"])
}

func TestStdioCancelled(t *testing.T) {
	s := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.StartStdio(ctx, strings.NewReader(`{"method":"initialize","id":1}`+"\n"), &bytes.Buffer{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRPCRejectsServerPathsOverHTTP(t *testing.T) {
	s := newTestServer(t)
	dir := t.TempDir()
	target := filepath.Join(dir, "outside", "..", "written.xlsx")
	content := base64.StdEncoding.EncodeToString(workbook(t))

	calls := []string{
		`{"method":"modify_file","params":{"content":"` + content + `","text":"X","output_path":"` + target + `"},"id":1}`,
		`{"method":"generate_template","params":{"output_path":"` + target + `"},"id":2}`,
		`{"method":"analyze_file","params":{"filepath":"` + target + `"},"id":3}`,
		`{"method":"validate_file","params":{"content":"` + content + `","original_filepath":"` + target + `"},"id":4}`,
	}
	for _, body := range calls {
		req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Origin", "http://elsewhere.example")
		rec := s.do(t, req)
		require.Equal(t, http.StatusOK, rec.Code)

		code, msg := rpcError(t, decode(t, rec))
		assert.Equal(t, codeInvalidParams, code)
		assert.Contains(t, msg, "only accepted over stdio")
	}

	_, err := os.Stat(filepath.Join(dir, "written.xlsx"))
	assert.True(t, os.IsNotExist(err))
}

func TestStdioWritesOutputPath(t *testing.T) {
	s := newTestServer(t)
	dir := t.TempDir()
	input := filepath.Join(dir, "in.xlsx")
	output := filepath.Join(dir, "out.xlsx")
	require.NoError(t, os.WriteFile(input, workbook(t), 0o644))

	in := `{"method":"modify_file","params":{"filepath":"` + input + `","text":"LOCAL","output_path":"` + output + `"},"id":1}` + "\n"
	var out bytes.Buffer
	require.NoError(t, s.StartStdio(context.Background(), strings.NewReader(in), &out))

	var resp RPCResponse
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	require.Nil(t, resp.Error)
	assert.Equal(t, output, resp.Result.(map[string]interface{})["path"])

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	v, err := xlsxtest.Open(t, data).GetCellValue("Sheet1", "AD18")
	require.NoError(t, err)
	assert.Equal(t, "LOCAL", v)
}
