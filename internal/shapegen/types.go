// Package shapegen provides the HTTP client for the remote blendshape
// generation service: PCM audio in, timed blendshape frames out.
package shapegen

// GenerateRequest is the POST body sent to the generation service.
type GenerateRequest struct {
	AudioBase64 string `json:"audioBase64"`
	SampleRate  int    `json:"sampleRate"`
	Model       string `json:"model,omitempty"`
}

// RawFrame is one animation frame as returned by the service. TimeCode is a
// pointer because some model backends omit it and expect the client to infer
// frame spacing.
type RawFrame struct {
	TimeCode    *float64           `json:"timeCode"`
	BlendShapes map[string]float64 `json:"blendShapes"`
}

// GenerateResponse is the service's reply covering the submitted audio span.
type GenerateResponse struct {
	Frames          []RawFrame `json:"frames"`
	BlendshapeNames []string   `json:"blendshapeNames,omitempty"`
}
