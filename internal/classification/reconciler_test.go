package classification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morbidity-triage-server/internal/domain"
)

type fakeOracle struct {
	mu           sync.Mutex
	predictBody  []byte
	predictErr   error
	causeBodies  map[string][]byte
	causeErr     error
	causeReqs    []domain.CauseRequestPayload
	predictBlock chan struct{}
	predictStart chan struct{}
	causeBlock   map[string]chan struct{}
	causeStart   map[string]chan struct{}
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{
		predictBody: []byte(`{"success":true,"predictions":[{"categoria":"Sistema digestivo","prob":31.06},{"categoria":"Sistema circulatorio","prob":24.55}]}`),
		causeBodies: map[string][]byte{
			"sistema digestivo":    []byte(`{"success":true,"predictions":[{"caufin":"K35","descripcion":"Apendicitis aguda","prob":61.2}]}`),
			"sistema circulatorio": []byte(`{"success":true,"predictions":[{"caufin":"I10","descripcion":"Hipertensión esencial","prob":70}]}`),
		},
		causeBlock: map[string]chan struct{}{},
		causeStart: map[string]chan struct{}{},
	}
}

func (f *fakeOracle) Predict(ctx context.Context, payload domain.RequestPayload) ([]byte, error) {
	f.mu.Lock()
	block, start := f.predictBlock, f.predictStart
	body, err := f.predictBody, f.predictErr
	f.mu.Unlock()

	if start != nil {
		close(start)
	}
	if block != nil {
		<-block
	}
	return body, err
}

func (f *fakeOracle) PredictCausas(ctx context.Context, payload domain.CauseRequestPayload) ([]byte, error) {
	f.mu.Lock()
	f.causeReqs = append(f.causeReqs, payload)
	block, start := f.causeBlock[payload.Categoria], f.causeStart[payload.Categoria]
	body, err := f.causeBodies[payload.Categoria], f.causeErr
	f.mu.Unlock()

	if start != nil {
		close(start)
	}
	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, &domain.NetworkError{Op: "predict_causas", StatusCode: 404}
	}
	return body, nil
}

func newTestReconciler(oracle Oracle) *Reconciler {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return NewReconciler(oracle, logger, WithReconcilerClock(func() time.Time { return testNow }))
}

var testNow = time.Date(2024, 5, 15, 10, 30, 0, 0, time.UTC)

func TestReconciler_EndToEnd(t *testing.T) {
	oracle := newFakeOracle()
	r := newTestReconciler(oracle)
	ctx := context.Background()

	payload, err := Build(domain.FormValues{
		Age: "34", Gender: "1", Ethnicity: "4", Source: "interna", Region: "1", SubRegion: "101",
	})
	require.NoError(t, err)

	preds, err := r.Classify(ctx, payload)
	require.NoError(t, err)
	require.Len(t, preds, 2)
	assert.Equal(t, "Sistema digestivo", preds[0].Label)
	assert.Equal(t, "Sistema circulatorio", preds[1].Label)
	assert.Equal(t, "31.1", FormatProbability(preds[0].Probability))
	assert.Equal(t, "24.6", FormatProbability(preds[1].Probability))

	top, ok := r.TopCategory()
	require.True(t, ok)
	assert.Equal(t, "Sistema digestivo", top.Label)

	causes, err := r.SelectCategory(ctx, top.Label)
	require.NoError(t, err)
	require.Len(t, causes, 1)
	assert.Equal(t, "K35", causes[0].Code)
	require.Len(t, oracle.causeReqs, 1)
	assert.Equal(t, "sistema digestivo", oracle.causeReqs[0].Categoria)
	assert.Equal(t, 34, oracle.causeReqs[0].Edad)

	snap := r.Snapshot()
	assert.Equal(t, StateSuccess, snap.State)
	assert.Equal(t, StateSuccess, snap.CauseState)
	assert.Equal(t, "Sistema digestivo", snap.SelectedCategory)
	assert.Len(t, snap.Causes, 1)
	assert.Equal(t, testNow, snap.UpdatedAt)
}

func TestReconciler_RejectsWhileLoading(t *testing.T) {
	oracle := newFakeOracle()
	oracle.predictBlock = make(chan struct{})
	oracle.predictStart = make(chan struct{})
	r := newTestReconciler(oracle)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := r.Classify(ctx, domain.RequestPayload{Edad: 1})
		done <- err
	}()
	<-oracle.predictStart

	assert.Equal(t, StateLoading, r.Snapshot().State)
	_, err := r.Classify(ctx, domain.RequestPayload{Edad: 2})
	assert.ErrorIs(t, err, ErrClassificationInFlight)

	close(oracle.predictBlock)
	require.NoError(t, <-done)
	assert.Equal(t, StateSuccess, r.Snapshot().State)
}

func TestReconciler_NoResults(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty list", `{"success":true,"predictions":[]}`},
		{"missing list", `{"success":true}`},
		{"garbage", `not json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oracle := newFakeOracle()
			oracle.predictBody = []byte(tt.body)
			r := newTestReconciler(oracle)

			preds, err := r.Classify(context.Background(), domain.RequestPayload{})
			assert.Nil(t, preds)
			assert.ErrorIs(t, err, domain.ErrNoResults)

			snap := r.Snapshot()
			assert.Equal(t, StateError, snap.State)
			assert.Equal(t, "No se pudieron obtener predicciones del modelo", snap.Message)
		})
	}
}

func TestReconciler_NetworkError(t *testing.T) {
	oracle := newFakeOracle()
	oracle.predictErr = &domain.NetworkError{Op: "predict", StatusCode: 500}
	r := newTestReconciler(oracle)

	_, err := r.Classify(context.Background(), domain.RequestPayload{})
	require.Error(t, err)
	assert.Equal(t, 500, domain.StatusCode(err))

	snap := r.Snapshot()
	assert.Equal(t, StateError, snap.State)
	assert.Contains(t, snap.Message, "HTTP error! status: 500")

	// The next submission starts over
	oracle.mu.Lock()
	oracle.predictErr = nil
	oracle.mu.Unlock()
	_, err = r.Classify(context.Background(), domain.RequestPayload{})
	require.NoError(t, err)
	assert.Equal(t, StateSuccess, r.Snapshot().State)
	assert.Empty(t, r.Snapshot().Message)
}

func TestReconciler_DiscardsStaleCauses(t *testing.T) {
	oracle := newFakeOracle()
	oracle.causeBlock["sistema digestivo"] = make(chan struct{})
	oracle.causeStart["sistema digestivo"] = make(chan struct{})
	r := newTestReconciler(oracle)
	ctx := context.Background()

	_, err := r.Classify(ctx, domain.RequestPayload{Edad: 34})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := r.SelectCategory(ctx, "Sistema digestivo")
		done <- err
	}()
	<-oracle.causeStart["sistema digestivo"]

	causes, err := r.SelectCategory(ctx, "Sistema circulatorio")
	require.NoError(t, err)
	require.Len(t, causes, 1)
	assert.Equal(t, "I10", causes[0].Code)

	close(oracle.causeBlock["sistema digestivo"])
	assert.ErrorIs(t, <-done, ErrStaleResponse)

	snap := r.Snapshot()
	assert.Equal(t, "Sistema circulatorio", snap.SelectedCategory)
	require.Len(t, snap.Causes, 1)
	assert.Equal(t, "I10", snap.Causes[0].Code)
}

func TestReconciler_CauseFailure(t *testing.T) {
	oracle := newFakeOracle()
	r := newTestReconciler(oracle)
	ctx := context.Background()

	_, err := r.Classify(ctx, domain.RequestPayload{})
	require.NoError(t, err)

	oracle.mu.Lock()
	oracle.causeErr = errors.New("connection reset")
	oracle.mu.Unlock()

	_, err = r.SelectCategory(ctx, "Sistema digestivo")
	require.Error(t, err)
	snap := r.Snapshot()
	assert.Equal(t, StateSuccess, snap.State, "category results survive a cause failure")
	assert.Equal(t, StateError, snap.CauseState)
	assert.Contains(t, snap.CauseMessage, "connection reset")
	assert.Len(t, snap.Predictions, 2)
}

func TestReconciler_SelectCategoryGuards(t *testing.T) {
	r := newTestReconciler(newFakeOracle())
	ctx := context.Background()

	_, err := r.SelectCategory(ctx, "Sistema digestivo")
	assert.ErrorIs(t, err, ErrNoClassification)

	_, ok := r.TopCategory()
	assert.False(t, ok)

	_, err = r.Classify(ctx, domain.RequestPayload{})
	require.NoError(t, err)
	_, err = r.SelectCategory(ctx, "Neoplasias")
	assert.ErrorIs(t, err, ErrUnknownCategory)
}

func TestReconciler_ResetWhileLoading(t *testing.T) {
	oracle := newFakeOracle()
	oracle.predictBlock = make(chan struct{})
	oracle.predictStart = make(chan struct{})
	r := newTestReconciler(oracle)

	done := make(chan error, 1)
	go func() {
		_, err := r.Classify(context.Background(), domain.RequestPayload{})
		done <- err
	}()
	<-oracle.predictStart

	r.Reset()
	close(oracle.predictBlock)
	assert.ErrorIs(t, <-done, ErrStaleResponse)
	assert.Equal(t, StateIdle, r.Snapshot().State)
}

func TestReconciler_SnapshotIsACopy(t *testing.T) {
	r := newTestReconciler(newFakeOracle())
	_, err := r.Classify(context.Background(), domain.RequestPayload{Edad: 3})
	require.NoError(t, err)

	snap := r.Snapshot()
	snap.Predictions[0].Label = "changed"
	snap.Payload.Edad = 99

	again := r.Snapshot()
	assert.Equal(t, "Sistema digestivo", again.Predictions[0].Label)
	assert.Equal(t, 3, again.Payload.Edad)
}
