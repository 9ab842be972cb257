package server

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hagyro/paper-md/models"
	"github.com/hagyro/paper-md/queue"
)

var samplePDF = []byte("%PDF-1.4\nminimal body\n%%EOF")

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestServer(t *testing.T) (*queue.ConversionQueue, *httptest.Server) {
	t.Helper()
	q := queue.NewConversionQueue(2, 4, 1<<20, nil, testLogger())
	srv := NewServer(q, ":0", 1<<20, testLogger())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return q, ts
}

func multipartUpload(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func submitJob(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	body, contentType := multipartUpload(t, "file", "paper.pdf", samplePDF)
	resp, err := http.Post(ts.URL+"/convert", contentType, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotEmpty(t, out["job_id"])
	return out["job_id"]
}

func TestConvertAcceptsUpload(t *testing.T) {
	q, ts := newTestServer(t)

	id := submitJob(t, ts)

	snap, err := q.Status(id)
	require.NoError(t, err)
	assert.Equal(t, models.StatePending, snap.State)
}

func TestConvertRejectsMissingFile(t *testing.T) {
	_, ts := newTestServer(t)

	body, contentType := multipartUpload(t, "document", "paper.pdf", samplePDF)
	resp, err := http.Post(ts.URL+"/convert", contentType, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestConvertRejectsNonPDF(t *testing.T) {
	_, ts := newTestServer(t)

	body, contentType := multipartUpload(t, "file", "notes.txt", []byte("just text"))
	resp, err := http.Post(ts.URL+"/convert", contentType, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, string(models.ErrInvalidInput), out["error"])
}

func TestStatusEndpoint(t *testing.T) {
	q, ts := newTestServer(t)
	id := submitJob(t, ts)

	<-q.Pending()
	q.Start(id, nil)
	q.SetProgress(id, 0.4)

	resp, err := http.Get(ts.URL + "/status/" + id)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap models.StatusSnapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, id, snap.JobID)
	assert.Equal(t, models.StateProcessing, snap.State)
	assert.Equal(t, 0.4, snap.Progress)
}

func TestStatusUnknownJob(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/status/does-not-exist")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestResultLifecycle(t *testing.T) {
	q, ts := newTestServer(t)
	id := submitJob(t, ts)

	// Still pending: the result is not ready.
	resp, err := http.Get(ts.URL + "/result/" + id)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	<-q.Pending()
	q.Start(id, nil)
	q.Complete(id, "# A Paper\n\nBody.\n")

	resp, err = http.Get(ts.URL + "/result/" + id)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/markdown")

	md, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "# A Paper\n\nBody.\n", string(md))
}

func TestResultOfFailedJob(t *testing.T) {
	q, ts := newTestServer(t)
	id := submitJob(t, ts)

	<-q.Pending()
	q.Start(id, nil)
	q.Fail(id, models.NewJobError(models.ErrExtractionFailed, "corrupt document"))

	resp, err := http.Get(ts.URL + "/result/" + id)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, string(models.ErrExtractionFailed), out["error"])
}

func TestCancelEndpoint(t *testing.T) {
	q, ts := newTestServer(t)
	id := submitJob(t, ts)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/jobs/"+id, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	snap, err := q.Status(id)
	require.NoError(t, err)
	assert.Equal(t, models.StateFailed, snap.State)
}

func TestOverloadedMapsTo429(t *testing.T) {
	q := queue.NewConversionQueue(1, 1, 1<<20, nil, testLogger())
	srv := NewServer(q, ":0", 1<<20, testLogger())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	submitJob(t, ts) // fills the single backlog slot

	body, contentType := multipartUpload(t, "file", "again.pdf", samplePDF)
	resp, err := http.Post(ts.URL+"/convert", contentType, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "ok", out["status"])
}

func TestCORSHeaders(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
