package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"torg12-server/internal/cellref"
	"torg12-server/internal/compression"
	"torg12-server/internal/models"
	"torg12-server/internal/session"
	"torg12-server/internal/xlsx/xlsxtest"
	"torg12-server/pkg/config"
)

func newService(t *testing.T, mutate ...func(*config.Config)) *Service {
	t.Helper()
	cfg := config.DefaultConfig()
	for _, m := range mutate {
		m(cfg)
	}

	store, err := session.NewStore(session.Options{
		MaxSessions: cfg.Cache.MaxSessions,
		MaxMemory:   cfg.MaxCacheBytes(),
		TTL:         cfg.Cache.DefaultTTL,
		HotTTL:      cfg.Cache.HotDataTTL,
	}, compression.NewManager(cfg.Workbook.CompressionLevel), nil)
	require.NoError(t, err)
	t.Cleanup(store.Close)

	svc, err := New(cfg, store, nil)
	require.NoError(t, err)
	return svc
}

func workbook(t *testing.T) []byte {
	return xlsxtest.New(t).
		Value("A3", "Грузоотправитель").
		Value("B5", "Поставщик").
		Value("C10", "Итого").
		Style("C10", &excelize.Style{Border: xlsxtest.Thin("bottom")}).
		Bytes()
}

func TestUploadModifyValidate(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	up, err := svc.Upload(ctx, "torg12.xlsx", workbook(t))
	require.NoError(t, err)
	assert.Equal(t, 3, up.Records)
	assert.Equal(t, "Sheet1", up.Sheet)
	assert.NotEmpty(t, up.Token)

	result, err := svc.ModifySession(ctx, up.SessionID, "HELLO", "")
	require.NoError(t, err)
	assert.Equal(t, "modified-document.xlsx", result.Filename)
	assert.Empty(t, result.Warnings)

	f := xlsxtest.Open(t, result.Data)
	v, err := f.GetCellValue("Sheet1", "AD18")
	require.NoError(t, err)
	assert.Equal(t, "HELLO", v)

	summary, err := svc.ValidateSession(ctx, up.SessionID, nil)
	require.NoError(t, err)
	assert.True(t, summary.IsValid)
	assert.Equal(t, 4, summary.TotalCells)
}

func TestValidateSessionWithoutOutputUsesOriginal(t *testing.T) {
	svc := newService(t)
	up, err := svc.Upload(context.Background(), "a.xlsx", workbook(t))
	require.NoError(t, err)

	summary, err := svc.ValidateSession(context.Background(), up.SessionID, nil)
	require.NoError(t, err)
	assert.True(t, summary.IsValid)
	assert.Equal(t, 3, summary.TotalCells)
}

func TestValidateSessionUploadedFile(t *testing.T) {
	svc := newService(t)
	up, err := svc.Upload(context.Background(), "a.xlsx", workbook(t))
	require.NoError(t, err)

	other := xlsxtest.New(t).Value("Z1", "new").Bytes()
	summary, err := svc.ValidateSession(context.Background(), up.SessionID, other)
	require.NoError(t, err)
	assert.False(t, summary.IsValid)
}

func TestSessionBusy(t *testing.T) {
	svc := newService(t)
	up, err := svc.Upload(context.Background(), "a.xlsx", workbook(t))
	require.NoError(t, err)

	sess, err := svc.Session(up.SessionID)
	require.NoError(t, err)
	require.NoError(t, sess.TryAcquire())
	defer sess.Release()

	_, err = svc.ModifySession(context.Background(), up.SessionID, "x", "")
	assert.ErrorIs(t, err, session.ErrBusy)
	_, err = svc.ValidateSession(context.Background(), up.SessionID, nil)
	assert.ErrorIs(t, err, session.ErrBusy)
}

func TestUnknownSession(t *testing.T) {
	svc := newService(t)
	_, err := svc.ModifySession(context.Background(), "missing", "x", "")
	assert.ErrorIs(t, err, session.ErrNotFound)
	_, err = svc.Cells("missing", cellref.Area{})
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestCellsAndSearch(t *testing.T) {
	svc := newService(t)
	up, err := svc.Upload(context.Background(), "a.xlsx", workbook(t))
	require.NoError(t, err)

	area, err := cellref.ParseArea("A1:B5")
	require.NoError(t, err)
	cells, err := svc.Cells(up.SessionID, area)
	require.NoError(t, err)
	require.Len(t, cells, 2)
	assert.Equal(t, "A3", cells[0].Address)
	assert.Equal(t, "B5", cells[1].Address)

	found, err := svc.Search(up.SessionID, "итого")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "C10", found[0].Address)
}

func TestStatelessModifyAndValidate(t *testing.T) {
	svc := newService(t, func(c *config.Config) {
		c.Workbook.DefaultCommentText = "по умолчанию"
		c.Workbook.OutputFilename = "out.xlsx"
	})
	original := workbook(t)

	result, err := svc.Modify(context.Background(), original, "", "")
	require.NoError(t, err)
	assert.Equal(t, "out.xlsx", result.Filename)

	v, err := xlsxtest.Open(t, result.Data).GetCellValue("Sheet1", "AD18")
	require.NoError(t, err)
	assert.Equal(t, "по умолчанию", v)

	summary, err := svc.Validate(context.Background(), result.Data, original)
	require.NoError(t, err)
	assert.True(t, summary.IsValid)
}

func TestValidateUnreadableOriginal(t *testing.T) {
	svc := newService(t)
	_, err := svc.Validate(context.Background(), workbook(t), []byte("nope"))

	var unreadable *models.UnreadableFileError
	assert.True(t, errors.As(err, &unreadable))
}

func TestTemplate(t *testing.T) {
	svc := newService(t)
	data, name, err := svc.Template(context.Background(), "Текст")
	require.NoError(t, err)
	assert.Equal(t, "template-TORG-12.xlsx", name)

	v, err := xlsxtest.Open(t, data).GetCellValue("Sheet1", "A4")
	require.NoError(t, err)
	assert.Equal(t, "Текст", v)
}

func TestTemplateFromConfiguredStructure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "form.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sheet_name: Форма\ncells: [{cell: A1, value: '${text}'}]\n"), 0o600))

	svc := newService(t, func(c *config.Config) { c.Workbook.TemplatePath = path })
	data, _, err := svc.Template(context.Background(), "hi")
	require.NoError(t, err)

	v, err := xlsxtest.Open(t, data).GetCellValue("Форма", "A1")
	require.NoError(t, err)
	assert.Equal(t, "hi", v)
}

func TestBadTemplatePath(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Workbook.TemplatePath = filepath.Join(t.TempDir(), "absent.yaml")
	_, err := New(cfg, nil, nil)
	assert.Error(t, err)
}

func TestJobsRespectContext(t *testing.T) {
	svc := newService(t, func(c *config.Config) { c.Server.MaxConcurrentReqs = 1 })
	require.NoError(t, svc.jobs.Acquire(context.Background(), 1))
	defer svc.jobs.Release(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.Analyze(ctx, workbook(t))
	assert.ErrorIs(t, err, context.Canceled)
}
