package persist

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/steadystate/app/persist/mocks"
	"github.com/umputun/steadystate/app/steady"
)

// newBackend makes mock backend keeping written data, writeErrs are returned by consecutive writes
func newBackend(data []byte, readErr error, writeErrs ...error) *mocks.BackendMock {
	var mu sync.Mutex
	return &mocks.BackendMock{
		ReadFunc: func(context.Context) ([]byte, error) {
			mu.Lock()
			defer mu.Unlock()
			if readErr != nil {
				return nil, readErr
			}
			if data == nil {
				return nil, ErrNotFound
			}
			return data, nil
		},
		WriteFunc: func(_ context.Context, d []byte) error {
			mu.Lock()
			defer mu.Unlock()
			if len(writeErrs) > 0 {
				err := writeErrs[0]
				writeErrs = writeErrs[1:]
				if err != nil {
					return err
				}
			}
			data = d
			return nil
		},
		RemoveFunc: func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			data = nil
			return nil
		},
		StringFunc: func() string { return "mock" },
	}
}

func testClock() time.Time { return time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC) }

func TestAdapter_LoadNothingPersisted(t *testing.T) {
	a := New(NewMemory(), Params{})
	res, err := a.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, steady.Defaults(), res)
}

func TestAdapter_LoadPersisted(t *testing.T) {
	persisted := steady.Defaults()
	persisted.DataIN.Update("高度", steady.Num(5000))
	persisted.Mode = "训练"
	persisted.Environment = "空中"
	persisted.ShowResults = false

	mem := NewMemory()
	data, err := Encode(persisted, testClock())
	require.NoError(t, err)
	require.NoError(t, mem.Write(context.Background(), data))

	res, err := New(mem, Params{}).Load(context.Background())
	require.NoError(t, err)
	persisted.Stamp(testClock())
	assert.Equal(t, persisted, res)
}

func TestAdapter_LoadMissingField(t *testing.T) {
	persisted := steady.Defaults()
	persisted.DataIN.Update("高度", steady.Num(5000))
	persisted.Mode = "训练"
	persisted.Environment = "空中"
	persisted.Stamp(testClock())

	data, err := json.Marshal(persisted)
	require.NoError(t, err)
	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	delete(fields, "selectedMode")
	delete(fields, "version") // written before versioning
	data, err = json.Marshal(fields)
	require.NoError(t, err)

	mem := NewMemory()
	require.NoError(t, mem.Write(context.Background(), data))

	res, err := New(mem, Params{}).Load(context.Background())
	require.NoError(t, err)

	exp := persisted
	exp.Mode = steady.DefaultMode
	assert.Equal(t, exp, res)
}

func TestAdapter_LoadFallback(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		readErr error
		wantErr error
	}{
		{name: "not json", data: `{blah`, wantErr: ErrMalformed},
		{name: "json array", data: `[1,2]`, wantErr: ErrMalformed},
		{name: "no dataIN", data: `{"dataOut":[],"selectedSimulationStep":"0.025"}`, wantErr: ErrMalformed},
		{name: "null dataOut", data: `{"dataIN":[],"dataOut":null,"selectedSimulationStep":"0.025"}`, wantErr: ErrMalformed},
		{name: "empty step", data: `{"dataIN":[],"dataOut":[],"selectedSimulationStep":""}`, wantErr: ErrMalformed},
		{name: "wrong type", data: `{"dataIN":[],"dataOut":[],"selectedSimulationStep":"0.025","selectedMode":5}`,
			wantErr: ErrMalformed},
		{name: "future version", data: `{"dataIN":[],"dataOut":[],"selectedSimulationStep":"0.025","version":99}`,
			wantErr: ErrMalformed},
		{name: "bad version", data: `{"dataIN":[],"dataOut":[],"selectedSimulationStep":"0.025","version":"x"}`,
			wantErr: ErrMalformed},
		{name: "duplicate input names", wantErr: ErrMalformed,
			data: `{"dataIN":[{"name":"高度","data":[1]},{"name":"高度","data":[2]}],"dataOut":[],"selectedSimulationStep":"0.025"}`},
		{name: "read failure", readErr: errors.New("permission denied"), wantErr: ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var data []byte
			if tt.data != "" {
				data = []byte(tt.data)
			}
			b := newBackend(data, tt.readErr)
			res, err := New(b, Params{}).Load(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, steady.Defaults(), res)
		})
	}
}

func TestAdapter_LoadCustomDefaults(t *testing.T) {
	d := steady.Defaults()
	d.Environment = "空中"
	a := New(NewMemory(), Params{Defaults: d})

	res, err := a.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "空中", res.Environment)

	b := newBackend([]byte(`{"dataIN":[],"dataOut":[],"selectedSimulationStep":"0.05"}`), nil)
	res, err = New(b, Params{Defaults: d}).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "空中", res.Environment, "missing field from custom defaults")
	assert.Equal(t, "0.05", res.SimulationStep)
	assert.Empty(t, res.DataIN)
}

func TestAdapter_SaveRoundTrip(t *testing.T) {
	mem := NewMemory()
	a := New(mem, Params{Now: testClock})

	snap := steady.Defaults()
	snap.DataIN.Update("油门杆角度", steady.Num(80))
	snap.DataOut.Update("推重比", steady.Str("n/a"))
	snap.IsCalculating = true
	require.NoError(t, a.Save(context.Background(), snap))

	res, err := a.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testClock().UnixMilli(), res.LastUpdated, "stamped on save")
	res.LastUpdated = 0
	assert.Equal(t, snap, res)
}

func TestAdapter_SaveRetries(t *testing.T) {
	fail := errors.New("disk full")

	t.Run("single attempt by default", func(t *testing.T) {
		b := newBackend(nil, nil, fail)
		err := New(b, Params{}).Save(context.Background(), steady.Defaults())
		require.Error(t, err)
		assert.ErrorIs(t, err, fail)
		assert.Len(t, b.WriteCalls(), 1)
	})

	t.Run("with attempts", func(t *testing.T) {
		b := newBackend(nil, nil, fail, fail)
		err := New(b, Params{Attempts: 3, Delay: time.Millisecond}).Save(context.Background(), steady.Defaults())
		require.NoError(t, err)
		assert.Len(t, b.WriteCalls(), 3)
	})
}

func TestAdapter_Bind(t *testing.T) {
	mem := NewMemory()
	var errs []error
	a := New(mem, Params{Now: testClock, OnError: func(err error) { errs = append(errs, err) }})

	st := steady.NewState(steady.Defaults(), steady.WithClearer(a))
	unsub := a.Bind(context.Background(), st.Store())
	assert.Equal(t, 1, mem.Writes(), "current value saved on bind")

	st.UpdateInput("高度", 5000)
	assert.Equal(t, 2, mem.Writes())
	st.UpdateInput("nonexistent", 1)
	assert.Equal(t, 3, mem.Writes(), "unknown name still triggers save")

	res, err := a.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, steady.Num(5000), res.DataIN.Value("高度"))

	require.NoError(t, st.Reset(context.Background()))
	_, err = mem.Read(context.Background())
	assert.ErrorIs(t, err, ErrNotFound, "reset clears storage")
	res, err = a.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, steady.Defaults(), res)

	unsub()
	st.UpdateInput("高度", 1)
	assert.Equal(t, 4, mem.Writes(), "no saves after unsubscribe")
	assert.Empty(t, errs)
}

func TestAdapter_BindReportsErrors(t *testing.T) {
	b := newBackend(nil, nil, nil, errors.New("boom"))
	var errs []error
	a := New(b, Params{OnError: func(err error) { errs = append(errs, err) }})
	st := steady.NewState(steady.Defaults())
	a.Bind(context.Background(), st.Store())

	assert.True(t, st.UpdateInput("高度", 1), "mutation applies despite save failure")
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "boom")
	assert.InDelta(t, 1.0, st.InputValue("高度"), 0.0001)
}

func TestAdapter_Async(t *testing.T) {
	mem := NewMemory()
	a := New(mem, Params{Async: 4})
	st := steady.NewState(steady.Defaults(), steady.WithClearer(a))
	a.Bind(context.Background(), st.Store())

	for i := range 20 {
		st.UpdateInput("高度", float64(i))
	}
	a.Flush()
	assert.LessOrEqual(t, mem.Writes(), 21, "overtaken writes skipped")

	res, err := a.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.DataIN, 12)
	assert.Equal(t, steady.Num(19), res.DataIN.Value("高度"), "last snapshot wins")

	require.NoError(t, st.Reset(context.Background()))
	_, err = mem.Read(context.Background())
	assert.ErrorIs(t, err, ErrNotFound, "clear waits for pending writes")
}

func TestAdapter_AsyncReportsErrors(t *testing.T) {
	b := newBackend(nil, nil, errors.New("boom"))
	var mu sync.Mutex
	var errs []error
	a := New(b, Params{Async: 1, OnError: func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}})
	require.NoError(t, a.Save(context.Background(), steady.Defaults()), "async save returns right away")
	a.Flush()
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "boom")
}

func TestAdapter_Clear(t *testing.T) {
	b := newBackend([]byte("{}"), nil)
	a := New(b, Params{})
	require.NoError(t, a.Clear(context.Background()))
	require.NoError(t, a.Clear(context.Background()))
	assert.Len(t, b.RemoveCalls(), 2)
	_, err := b.Read(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "backend:mock, async:false", a.String())
}

func TestAdapter_LoadKeepsArbitrarySelection(t *testing.T) {
	persisted := steady.Defaults()
	persisted.Mode = "custom mode"
	persisted.Environment = "高空台"
	persisted.SimulationStep = "0.1"
	data, err := Encode(persisted, testClock())
	require.NoError(t, err)

	res, err := New(newBackend(data, nil), Params{}).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "custom mode", res.Mode)
	assert.Equal(t, "高空台", res.Environment)
	assert.Equal(t, "0.1", res.SimulationStep)
}
