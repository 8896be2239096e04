package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// clientTimeout bounds every request elytractl makes to elytra-server.
const clientTimeout = 30 * time.Second

var httpClient = &http.Client{Timeout: clientTimeout}

// datasetSummary mirrors the JSON shape returned by GET /api/datasets.
type datasetSummary struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Timestamp     int64  `json:"timestamp"`
	RowGroupCount int    `json:"rowGroupCount"`
	Format        string `json:"format"`
}

type registerDatasetRequest struct {
	Name       string          `json:"name"`
	StorageKey string          `json:"storageKey"`
	Bucket     string          `json:"bucket"`
	RowGroups  []rowGroupInput `json:"rowGroups"`
}

type rowGroupInput struct {
	ID       int `json:"id"`
	RowCount int `json:"rowCount"`
}

type registerDatasetResponse struct {
	DatasetID     string `json:"datasetId"`
	RowGroupCount int    `json:"rowGroupCount"`
}

type submitJobRequest struct {
	APIKey    string `json:"apiKey"`
	DatasetID string `json:"datasetId"`
	Ops       any    `json:"ops"`
}

type submitJobResponse struct {
	Result any `json:"result"`
}

type apiError struct {
	Error string `json:"error"`
}

func listDatasets(addr string) ([]datasetSummary, error) {
	var out []datasetSummary

	err := doJSON(http.MethodGet, addr+"/api/datasets", nil, &out)
	if err != nil {
		return nil, err
	}

	return out, nil
}

func registerDataset(addr string, req registerDatasetRequest) (registerDatasetResponse, error) {
	var out registerDatasetResponse

	err := doJSON(http.MethodPost, addr+"/api/register-dataset", req, &out)

	return out, err
}

func deleteDataset(addr, id string) error {
	var out map[string]bool

	return doJSON(http.MethodDelete, addr+"/api/datasets/"+id, nil, &out)
}

func submitJob(addr string, req submitJobRequest) (submitJobResponse, error) {
	var out submitJobResponse

	err := doJSON(http.MethodPost, addr+"/api/jobs", req, &out)

	return out, err
}

// doJSON issues an HTTP request with an optional JSON body and decodes a
// JSON response into out. Non-2xx responses are turned into an error
// carrying the server's {"error": ...} message when present.
func doJSON(method, url string, body, out any) error {
	var reqBody io.Reader

	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}

		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, url, reqBody) //nolint:noctx // elytractl is a short-lived CLI invocation
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}

	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr apiError

		if jsonErr := json.Unmarshal(respBody, &apiErr); jsonErr == nil && apiErr.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status, apiErr.Error)
		}

		return fmt.Errorf("%s", resp.Status)
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}

	err = json.Unmarshal(respBody, out)
	if err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}
