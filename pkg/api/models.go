package api

// NoTireDetected is returned in place of a depth when the gate rejects an image.
const NoTireDetected = "No tire detected in the image"

type CaptureRequest struct {
	ImageData string `json:"image_data"`
}

type CaptureResponse struct {
	ImageData      string `json:"image_data"`
	PredictedDepth string `json:"predicted_depth"`
}

type UploadRequest struct {
	Contents string `json:"contents"`
	Filename string `json:"filename,omitempty"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

type ModelInfo struct {
	Name      string `json:"name"`
	Container string `json:"container"`
	Blob      string `json:"blob"`
	LocalPath string `json:"local_path"`
}

type InfoResponse struct {
	Models        []ModelInfo `json:"models"`
	GatingEnabled bool        `json:"gating_enabled"`
	GateThreshold float32     `json:"gate_threshold"`
	InputSize     int         `json:"input_size"`
}
