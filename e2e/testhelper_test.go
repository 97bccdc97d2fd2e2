package e2e

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/smpb05/janus-gateway/internal/config"
	"github.com/smpb05/janus-gateway/internal/fragment"
	"github.com/smpb05/janus-gateway/internal/handler"
	"github.com/smpb05/janus-gateway/internal/ingest"
	"github.com/smpb05/janus-gateway/internal/logging"
	"github.com/smpb05/janus-gateway/internal/media/mediatest"
	"github.com/smpb05/janus-gateway/internal/model"
	"github.com/smpb05/janus-gateway/internal/pipeline"
	"github.com/smpb05/janus-gateway/internal/scheduler"
)

// testApp holds all components needed for testing
type testApp struct {
	app    *fiber.App
	base   string
	fake   *mediatest.Fake
	jobs   *scheduler.Scheduler
	cancel context.CancelFunc
}

// setupApp creates a Fiber app wired like main.go, with the in-process queue
// and a fake media toolkit over a temporary videos directory. Workers are
// not started; call start.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	base := t.TempDir()
	log := logging.Discard()
	fake := mediatest.New()
	fragments := fragment.NewStore(base)

	processor := pipeline.NewProcessor(fragments, fake, ingest.Nop{}, pipeline.Options{TargetHeight: 240}, log)
	jobs := scheduler.New(scheduler.NewMemoryStore(), scheduler.NewLocalBackend(1), processor, log)

	cfg := &config.Config{
		Server: config.ServerConfig{Port: "5000", Env: "test"},
		Media:  config.MediaConfig{VideosDir: base, TargetHeight: 240},
		Queue:  config.QueueConfig{Backend: config.QueueBackendLocal, Workers: 1},
	}

	validate := validator.New()
	app := fiber.New(fiber.Config{ErrorHandler: handler.ErrorHandler})
	handler.Register(app, handler.Routes{
		Video:     handler.NewVideoHandler(jobs, fragments, validate, log),
		Job:       handler.NewJobHandler(jobs),
		Room:      handler.NewRoomHandler(fragments, fake, validate),
		System:    handler.NewSystemHandler(cfg.Public()),
		VideosDir: base,
	})

	ta := &testApp{app: app, base: base, fake: fake, jobs: jobs}
	t.Cleanup(func() {
		if ta.cancel != nil {
			ta.cancel()
		}
	})
	return ta
}

// start runs the worker pool until the test ends.
func (ta *testApp) start() {
	ctx, cancel := context.WithCancel(context.Background())
	ta.cancel = cancel
	go ta.jobs.Run(ctx)
}

// addPair writes the audio and video fragment of one user into a room and
// seeds their metadata.
func (ta *testApp) addPair(t *testing.T, room, user, start string, seconds float64) {
	t.Helper()
	dir := filepath.Join(ta.base, room)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	prefix := "videoroom-" + room + "-user-" + user + "-" + start
	audio := filepath.Join(dir, prefix+"-audio.opus")
	video := filepath.Join(dir, prefix+"-video.webm")
	for _, p := range []string{audio, video} {
		if err := os.WriteFile(p, []byte("raw"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	ta.fake.Set(audio, model.Metadata{Duration: seconds})
	ta.fake.Set(video, model.Metadata{Duration: seconds, Width: 640, Height: 480})
}

// addFile writes a file into a room directory.
func (ta *testApp) addFile(t *testing.T, room, name string) string {
	t.Helper()
	dir := filepath.Join(ta.base, room)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// waitForJob polls /job/:id until the job is terminal.
func waitForJob(t *testing.T, app *fiber.App, jobID string) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := doRequest(app, "GET", "/job/"+jobID, "", nil)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		assertStatus(t, resp, http.StatusOK)
		result := parseJSON(t, resp)
		state := result["state"]
		if state == string(model.JobStateCompleted) || state == string(model.JobStateFailed) {
			return result
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", jobID)
	return nil
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// parseJSONArray parses response body into a slice.
func parseJSONArray(t *testing.T, resp *http.Response) []interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result []interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON array: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body := readBody(t, resp)
		t.Fatalf("expected status %d, got %d\nbody: %s", expected, resp.StatusCode, body)
	}
}

// assertErrorCode checks the error envelope code.
func assertErrorCode(t *testing.T, result map[string]interface{}, code string) {
	t.Helper()
	errObj, ok := result["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected error envelope, got %v", result)
	}
	if errObj["code"] != code {
		t.Errorf("expected error code %s, got %v", code, errObj["code"])
	}
}
