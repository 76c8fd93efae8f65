package mcp

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morbidity-triage-server/internal/config"
	"github.com/morbidity-triage-server/internal/domain"
	"github.com/morbidity-triage-server/internal/feedback"
	"github.com/morbidity-triage-server/internal/ledger"
	"github.com/morbidity-triage-server/internal/location"
	"github.com/morbidity-triage-server/internal/pathology"
	"github.com/morbidity-triage-server/internal/storage"
)

// stubOracle answers both the location and prediction calls in-process.
type stubOracle struct {
	regionsErr error
	predictErr error
	causes     string
	causeCalls []string
}

func (o *stubOracle) Departamentos(context.Context) ([]domain.Region, error) {
	if o.regionsErr != nil {
		return nil, o.regionsErr
	}
	return []domain.Region{{Code: "1", Name: "Guatemala"}, {Code: "9", Name: "Quetzaltenango"}}, nil
}

func (o *stubOracle) Municipios(_ context.Context, id string) ([]domain.Region, error) {
	if id != "1" {
		return []domain.Region{}, nil
	}
	return []domain.Region{{Code: "101", Name: "Guatemala"}, {Code: "102", Name: "Santa Catarina Pinula"}}, nil
}

func (o *stubOracle) Predict(context.Context, domain.RequestPayload) ([]byte, error) {
	if o.predictErr != nil {
		return nil, o.predictErr
	}
	return []byte(`{"success":true,"predictions":[{"categoria":"Sistema digestivo","prob":31.06},{"categoria":"Sistema circulatorio","prob":24.55}]}`), nil
}

func (o *stubOracle) PredictCausas(_ context.Context, payload domain.CauseRequestPayload) ([]byte, error) {
	o.causeCalls = append(o.causeCalls, payload.Categoria)
	if o.causes != "" {
		return []byte(o.causes), nil
	}
	return []byte(`{"success":true,"predictions":[{"caufin":"K35","descripcion":"Apendicitis aguda","prob":61.24}]}`), nil
}

type testServer struct {
	*Server
	oracle     *stubOracle
	retraining feedback.Store
	exportDir  string
}

func newTestServer(t *testing.T, oracle *stubOracle) *testServer {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	store := storage.NewMemoryStore()
	resolver, err := location.NewResolver(oracle, store, 64, logger)
	require.NoError(t, err)

	retraining, err := feedback.NewSQLiteStore(filepath.Join(t.TempDir(), "retraining.db"))
	require.NoError(t, err)
	t.Cleanup(func() { retraining.Close() })

	l, err := ledger.Open(context.Background(), store, logger, ledger.WithRetrainingSink(retraining))
	require.NoError(t, err)

	exportDir := filepath.Join(t.TempDir(), "exports")
	srv, err := NewServer(Deps{
		Ledger:     l,
		Resolver:   resolver,
		Oracle:     oracle,
		Retraining: retraining,
		ExportDir:  exportDir,
		Logger:     logger,
	})
	require.NoError(t, err)
	return &testServer{Server: srv, oracle: oracle, retraining: retraining, exportDir: exportDir}
}

func (s *testServer) createPatient(t *testing.T, name, dpi string) domain.Patient {
	t.Helper()
	p, err := s.ledger.Create(context.Background(), domain.PatientDraft{
		Name:       name,
		Age:        34,
		Gender:     "1",
		Ethnicity:  "4",
		Source:     "interna",
		Region:     "1",
		SubRegion:  "101",
		NationalID: dpi,
	})
	require.NoError(t, err)
	return p
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestNewServer_RequiresCollaborators(t *testing.T) {
	_, err := NewServer(Deps{})
	assert.Error(t, err)
}

func TestListRegions(t *testing.T) {
	s := newTestServer(t, &stubOracle{})

	res, out, err := s.handleListRegions(context.Background(), nil, ListRegionsParams{})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Len(t, out.Regions, 2)
	assert.False(t, out.Degraded)
	assert.Equal(t, "2 departments available", resultText(t, res))
}

func TestListRegions_FallbackWhenOracleDown(t *testing.T) {
	s := newTestServer(t, &stubOracle{regionsErr: &domain.NetworkError{Op: "departamentos", Err: errors.New("connection refused")}})

	res, out, err := s.handleListRegions(context.Background(), nil, ListRegionsParams{})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.True(t, out.Degraded)
	assert.Equal(t, location.FallbackRegions(), out.Regions)
	assert.Contains(t, resultText(t, res), "fallback list")
}

func TestListSubRegions(t *testing.T) {
	s := newTestServer(t, &stubOracle{})
	ctx := context.Background()

	res, out, err := s.handleListSubRegions(ctx, nil, ListSubRegionsParams{Region: "1"})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Len(t, out.SubRegions, 2)
	assert.Equal(t, "2 municipalities in Guatemala", resultText(t, res))

	res, _, err = s.handleListSubRegions(ctx, nil, ListSubRegionsParams{Region: "  "})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestSearchPatients(t *testing.T) {
	s := newTestServer(t, &stubOracle{})
	s.createPatient(t, "María López", "1234567890101")
	s.createPatient(t, "Juan Pérez", "9876543210101")

	tests := []struct {
		query string
		want  int
	}{
		{"", 2},
		{"maría", 1},
		{"98765", 1},
		{"nadie", 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			_, out, err := s.handleSearchPatients(context.Background(), nil, SearchPatientsParams{Query: tt.query})
			require.NoError(t, err)
			assert.Len(t, out.Patients, tt.want)
		})
	}
}

func TestClassifyPatient_DefaultsToTopCategory(t *testing.T) {
	s := newTestServer(t, &stubOracle{})
	p := s.createPatient(t, "María López", "1234567890101")
	ctx := context.Background()

	res, out, err := s.handleClassifyPatient(ctx, nil, ClassifyPatientParams{PatientID: p.ID})
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(t, res))

	require.Len(t, out.Categories, 2)
	assert.Equal(t, "31.1", out.Categories[0].Display)
	assert.Equal(t, "Sistema digestivo", out.SelectedCategory)
	require.Len(t, out.Causes, 1)
	assert.Equal(t, "K35", out.Causes[0].Code)
	assert.Equal(t, "61.2", out.Causes[0].Display)
	assert.Equal(t, []string{"sistema digestivo"}, s.oracle.causeCalls)
	assert.Contains(t, resultText(t, res), "Apendicitis aguda (K35): 61.2%")

	stored, err := s.ledger.Get(p.ID)
	require.NoError(t, err)
	require.Len(t, stored.Classifications, 2)
	assert.Empty(t, stored.Classifications[0].SelectedCategory)
	assert.Equal(t, "Sistema digestivo", stored.Classifications[1].SelectedCategory)
}

func TestClassifyPatient_CauseFailureKeepsCategories(t *testing.T) {
	s := newTestServer(t, &stubOracle{causes: `{"success":true,"predictions":[]}`})
	p := s.createPatient(t, "María López", "1234567890101")

	res, out, err := s.handleClassifyPatient(context.Background(), nil, ClassifyPatientParams{PatientID: p.ID, Category: "Sistema circulatorio"})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Len(t, out.Categories, 2)
	assert.Empty(t, out.Causes)
	assert.NotEmpty(t, out.CauseError)

	stored, err := s.ledger.Get(p.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Classifications, 1)
}

func TestClassifyPatient_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown patient", func(t *testing.T) {
		s := newTestServer(t, &stubOracle{})
		res, _, err := s.handleClassifyPatient(ctx, nil, ClassifyPatientParams{PatientID: 42})
		require.NoError(t, err)
		assert.True(t, res.IsError)
	})

	t.Run("oracle failure", func(t *testing.T) {
		s := newTestServer(t, &stubOracle{predictErr: &domain.NetworkError{Op: "predict", StatusCode: 500}})
		p := s.createPatient(t, "María López", "1234567890101")

		res, _, err := s.handleClassifyPatient(ctx, nil, ClassifyPatientParams{PatientID: p.ID})
		require.NoError(t, err)
		assert.True(t, res.IsError)

		stored, err := s.ledger.Get(p.ID)
		require.NoError(t, err)
		assert.Empty(t, stored.Classifications)
	})
}

func TestRetrainingTools(t *testing.T) {
	s := newTestServer(t, &stubOracle{})
	ctx := context.Background()
	p := s.createPatient(t, "María López", "1234567890101")

	manual, err := pathology.NewManual("Hipertensión", "Alta", "", time.Now())
	require.NoError(t, err)
	_, err = s.ledger.AddPathology(ctx, p.ID, manual)
	require.NoError(t, err)
	_, err = s.ledger.ConfirmPathology(ctx, p.ID, 0)
	require.NoError(t, err)
	_, err = s.ledger.SubmitForRetraining(ctx, p.ID, 0)
	require.NoError(t, err)

	_, listed, err := s.handleListRetraining(ctx, nil, ListRetrainingParams{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, listed.Total)
	require.Len(t, listed.Submissions, 1)
	assert.Equal(t, p.ID, listed.Submissions[0].PatientID)

	res, exported, err := s.handleExportRetraining(ctx, nil, ExportRetrainingParams{})
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(t, res))
	assert.EqualValues(t, 1, exported.Count)
	assert.FileExists(t, exported.FilePath)

	target, err := feedback.NewSQLiteStore(filepath.Join(t.TempDir(), "other.db"))
	require.NoError(t, err)
	defer target.Close()
	other := &Server{retraining: target, logger: s.logger}

	_, imported, err := other.handleImportRetraining(ctx, nil, ImportRetrainingParams{FilePath: exported.FilePath})
	require.NoError(t, err)
	assert.Equal(t, 1, imported.Imported)

	res, _, err = other.handleImportRetraining(ctx, nil, ImportRetrainingParams{FilePath: filepath.Join(s.exportDir, "missing.json")})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestNewLiteServer_UsesDataDir(t *testing.T) {
	cfg := config.DefaultLiteConfig()
	cfg.DataDir = t.TempDir()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	srv, err := NewLiteServer(context.Background(), cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })

	assert.NotNil(t, srv.mcpServer)
	assert.NotNil(t, srv.retraining)
	_, err = os.Stat(cfg.StorePath())
	assert.NoError(t, err)
	_, err = os.Stat(cfg.RetrainingDBPath())
	assert.NoError(t, err)
}
