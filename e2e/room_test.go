package e2e

import (
	"net/http"
	"testing"

	"github.com/smpb05/janus-gateway/internal/model"
)

func TestFileList(t *testing.T) {
	ta := setupApp(t)
	ta.addFile(t, "42", "videoroom-42-user-1-1000000-video.mjr")
	ta.addFile(t, "42", "42.mkv")

	resp, _ := doRequest(ta.app, "GET", "/call/filelist/42", "", nil)
	assertStatus(t, resp, http.StatusOK)
	list, _ := parseJSON(t, resp)["list"].([]interface{})
	if len(list) != 2 {
		t.Fatalf("expected 2 files, got %v", list)
	}
	for _, item := range list {
		f := item.(map[string]interface{})
		if f["size"] != float64(4) || f["created"] == "" {
			t.Errorf("unexpected entry %v", f)
		}
	}

	resp, _ = doRequest(ta.app, "GET", "/call/filelist/missing", "", nil)
	assertStatus(t, resp, http.StatusNotFound)
}

func TestFileInfo(t *testing.T) {
	ta := setupApp(t)
	path := ta.addFile(t, "42", "42.mkv")
	ta.fake.Set(path, model.Metadata{Duration: 25, Width: 640, Height: 240})
	other := ta.addFile(t, "42", "other.mkv")
	ta.fake.Set(other, model.Metadata{Duration: 3.5})

	resp, _ := doRequest(ta.app, "GET", "/file/info/42", "", nil)
	assertStatus(t, resp, http.StatusOK)
	result := parseJSON(t, resp)
	data, _ := result["data"].(map[string]interface{})
	if result["status"] != model.ProbeStatusOK || data["filename"] != "42.mkv" || data["duration"] != float64(25) {
		t.Errorf("unexpected info %v", result)
	}

	resp, _ = doRequest(ta.app, "GET", "/file/info/42/other.mkv", "", nil)
	assertStatus(t, resp, http.StatusOK)
	data, _ = parseJSON(t, resp)["data"].(map[string]interface{})
	if data["duration"] != 3.5 {
		t.Errorf("unexpected info %v", data)
	}
}

func TestFileInfoProbeError(t *testing.T) {
	ta := setupApp(t)
	ta.addFile(t, "42", "broken.mkv")

	resp, _ := doRequest(ta.app, "GET", "/file/info/42/broken.mkv", "", nil)
	assertStatus(t, resp, http.StatusOK)
	result := parseJSON(t, resp)
	data, _ := result["data"].(map[string]interface{})
	if result["status"] != model.ProbeStatusError || data["message"] == "" {
		t.Errorf("expected ERROR status, got %v", result)
	}
}

func TestStaticRecordings(t *testing.T) {
	ta := setupApp(t)
	ta.addFile(t, "42", "42.mkv")

	resp, _ := doRequest(ta.app, "GET", "/files/42/42.mkv", "", nil)
	assertStatus(t, resp, http.StatusOK)
	if body := readBody(t, resp); body != "data" {
		t.Errorf("unexpected body %q", body)
	}
}
