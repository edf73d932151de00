// Package remote provides an HTTP client for a face inference service
// exposing detection, swapping and background matting endpoints.
package remote

import "github.com/maauso/faceswap-api/internal/vision"

// detectRequest represents the request body for the /detect endpoint.
type detectRequest struct {
	Image string `json:"image"` // base64 PNG
}

// detectResponse represents the response from the /detect endpoint.
type detectResponse struct {
	Faces []vision.Face `json:"faces"`
	Error string        `json:"error,omitempty"`
}

// swapRequest represents the request body for the /swap endpoint.
type swapRequest struct {
	Image  string      `json:"image"` // base64 PNG
	Target vision.Face `json:"target"`
	Source vision.Face `json:"source"`
}

// swapResponse represents the response from the /swap endpoint.
type swapResponse struct {
	Image string `json:"image"` // base64 PNG
	Error string `json:"error,omitempty"`
}

// matteRequest represents the request body for the /matte endpoint.
type matteRequest struct {
	Image string `json:"image"` // base64 PNG
}

// matteResponse represents the response from the /matte endpoint.
type matteResponse struct {
	Alpha string `json:"alpha"` // base64 grayscale PNG
	Error string `json:"error,omitempty"`
}
