package dto

// ActionResponse is returned by the ml-service POST /action.
type ActionResponse struct {
	Action        string  `json:"action"`
	Confidence    float64 `json:"confidence"`
	Description   string  `json:"description"`
	ModelID       string  `json:"model_id"`
	ModelRevision *string `json:"model_revision"`
}

// EmbedResponse is returned by the ml-service POST /embed.
type EmbedResponse struct {
	Embedding     []float32 `json:"embedding"`
	Dim           int       `json:"dim"`
	ModelID       string    `json:"model_id"`
	ModelRevision *string   `json:"model_revision"`
}

type ModelInfo struct {
	ModelID  string  `json:"model_id"`
	Role     string  `json:"role"`
	LoadedAt string  `json:"loaded_at"`
	Revision *string `json:"revision"`
	Device   string  `json:"device"`
}

type MLHealthResponse struct {
	Status       string `json:"status"`
	ModelsLoaded bool   `json:"models_loaded"`
	VLMModelID   string `json:"vlm_model_id"`
	EmbedModelID string `json:"embed_model_id"`
	Device       string `json:"device"`
	MockMode     bool   `json:"mock_mode"`
}
