package httpapi

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"inferd/internal/serving"
	"inferd/pkg/types"
	"inferd/pkg/wire"
)

type mockService struct {
	resp   []byte
	err    error
	status types.StatusResponse
	ready  bool
	gotReq []byte
}

func (m *mockService) Infer(ctx context.Context, req []byte) ([]byte, error) {
	m.gotReq = req
	return m.resp, m.err
}
func (m *mockService) Status() types.StatusResponse { return m.status }
func (m *mockService) Ready() bool                  { return m.ready }

type mockUpdater struct {
	err    error
	blob   []byte
	device string
}

func (m *mockUpdater) Update(ctx context.Context, blob []byte, device string) error {
	m.blob = blob
	m.device = device
	return m.err
}

func encodeEnv(t *testing.T, kv ...string) []byte {
	t.Helper()
	m := wire.NewMap()
	for i := 0; i+1 < len(kv); i += 2 {
		m.Set(kv[i], wire.String(kv[i+1]))
	}
	b, err := wire.Encode(m)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return b
}

func decodeEnv(t *testing.T, b []byte) *wire.Map {
	t.Helper()
	m, err := wire.Decode(b)
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return m
}

func postInfer(t *testing.T, h http.Handler, body []byte, ct string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/infer", bytes.NewReader(body))
	if ct != "" {
		req.Header.Set("Content-Type", ct)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestInferSuccess(t *testing.T) {
	svc := &mockService{resp: encodeEnv(t, "status", "ok", "note", "done")}
	h := NewMux(svc, &mockUpdater{})
	w := postInfer(t, h, encodeEnv(t, "instruction", "wave"), "application/octet-stream")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/octet-stream" {
		t.Fatalf("content-type=%s", ct)
	}
	env := decodeEnv(t, w.Body.Bytes())
	if env.GetString("status") != "ok" {
		t.Fatalf("status=%q", env.GetString("status"))
	}
	if !bytes.Equal(svc.gotReq, encodeEnv(t, "instruction", "wave")) {
		t.Fatal("request body not passed through verbatim")
	}
}

func TestInferWrongContentType(t *testing.T) {
	h := NewMux(&mockService{}, &mockUpdater{})
	w := postInfer(t, h, []byte("x"), "application/json")
	if w.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status=%d", w.Code)
	}
	env := decodeEnv(t, w.Body.Bytes())
	if env.GetString("status") != "error" {
		t.Fatalf("status key=%q", env.GetString("status"))
	}
}

func TestInferErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		resp []byte
		want int
	}{
		{"codec", &wire.CodecError{Offset: 3, Msg: "truncated input"}, nil, http.StatusBadRequest},
		{"not_ready", serving.ErrNotReady(serving.StateLoading), nil, http.StatusServiceUnavailable},
		{"inference", serving.ErrInference(context.DeadlineExceeded), nil, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &mockService{resp: tc.resp, err: tc.err}
			h := NewMux(svc, &mockUpdater{})
			w := postInfer(t, h, encodeEnv(t), "application/octet-stream")
			if w.Code != tc.want {
				t.Fatalf("status=%d, want %d", w.Code, tc.want)
			}
			env := decodeEnv(t, w.Body.Bytes())
			if env.GetString("status") != "error" || env.GetString("message") == "" {
				t.Fatalf("error envelope: %v", w.Body.Bytes())
			}
		})
	}
}

func TestInferInferenceErrorKeepsEncodedEnvelope(t *testing.T) {
	pre := encodeEnv(t, "status", "error", "message", "tensor shape mismatch")
	svc := &mockService{resp: pre, err: serving.ErrInference(context.Canceled)}
	h := NewMux(svc, &mockUpdater{})
	w := postInfer(t, h, encodeEnv(t), "application/octet-stream")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", w.Code)
	}
	if !bytes.Equal(w.Body.Bytes(), pre) {
		t.Fatal("core-encoded error envelope was replaced")
	}
}

func tarBlob(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	body := []byte("{}")
	if err := tw.WriteHeader(&tar.Header{Name: "config.json", Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}); err != nil {
		t.Fatal(err)
	}
	tw.Write(body)
	tw.Close()
	return buf.Bytes()
}

func postUpdate(t *testing.T, h http.Handler, blob []byte, filename, device string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(blob)
	}
	if device != "" {
		mw.WriteField("device", device)
	}
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/update_model", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestUpdateModelSuccess(t *testing.T) {
	up := &mockUpdater{}
	svc := &mockService{status: types.StatusResponse{Device: "cuda:0"}}
	h := NewMux(svc, up)
	w := postUpdate(t, h, tarBlob(t), "model.tar", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var resp types.UpdateResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.Message == "" {
		t.Fatalf("body=%s err=%v", w.Body.String(), err)
	}
	if len(up.blob) == 0 {
		t.Fatal("archive bytes not forwarded")
	}
	// Device omitted in the form falls back to the active model's device.
	if up.device != "cuda:0" {
		t.Fatalf("device=%q", up.device)
	}
}

func TestUpdateModelExplicitDevice(t *testing.T) {
	up := &mockUpdater{}
	h := NewMux(&mockService{}, up)
	if w := postUpdate(t, h, tarBlob(t), "model.tar", "cpu"); w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if up.device != "cpu" {
		t.Fatalf("device=%q", up.device)
	}
}

func TestUpdateModelRejectsNonTar(t *testing.T) {
	h := NewMux(&mockService{}, &mockUpdater{})
	w := postUpdate(t, h, []byte("zipzip"), "model.zip", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "only .tar") {
		t.Fatalf("body=%s", w.Body.String())
	}
}

func TestUpdateModelNoFilePart(t *testing.T) {
	h := NewMux(&mockService{}, &mockUpdater{})
	w := postUpdate(t, h, nil, "", "cpu")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestUpdateModelErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"busy", serving.ErrBusy(), http.StatusTooManyRequests},
		{"load", serving.ErrModelLoad("/tmp/x", context.DeadlineExceeded), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewMux(&mockService{}, &mockUpdater{err: tc.err})
			w := postUpdate(t, h, tarBlob(t), "model.tar", "cpu")
			if w.Code != tc.want {
				t.Fatalf("status=%d, want %d", w.Code, tc.want)
			}
			var e types.ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &e); err != nil || e.Error == "" {
				t.Fatalf("body=%s", w.Body.String())
			}
		})
	}
}

func TestStatusHandler(t *testing.T) {
	svc := &mockService{status: types.StatusResponse{State: "ready", SwapsTotal: 2}}
	h := NewMux(svc, &mockUpdater{})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var st types.StatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("json: %v", err)
	}
	if st.State != "ready" || st.SwapsTotal != 2 {
		t.Fatalf("body: %+v", st)
	}
}

func TestReadyz(t *testing.T) {
	h := NewMux(&mockService{ready: true}, &mockUpdater{})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestReadyzNotReady(t *testing.T) {
	h := NewMux(&mockService{ready: false}, &mockUpdater{})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "loading") {
		t.Fatalf("body=%q", w.Body.String())
	}
}

func TestHealthz(t *testing.T) {
	h := NewMux(&mockService{}, &mockUpdater{})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Fatalf("status=%d body=%q", w.Code, w.Body.String())
	}
}
