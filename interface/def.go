package iface

// EngineInfo describes a loaded backend for health and status endpoints.
type EngineInfo struct {
	Name     string `json:"name"`
	Endpoint string `json:"endpoint,omitempty"`
	Anchors  int    `json:"anchors"`
	Values   int    `json:"values"`
}
