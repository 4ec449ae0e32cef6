package server

import (
	"pwdemo/internal/domain"
	"pwdemo/internal/engine"
)

// Request payloads

type ProtocolListInput struct {
	UserID string `query:"userId" doc:"Only protocols assigned to this user"`
	Status string `query:"status" doc:"Only protocols with this status"`
}

type ProtocolIDInput struct {
	ID string `path:"id" example:"p1"`
}

type WebhookConfigRequest struct {
	_       struct{} `json:"-" additionalProperties:"true"`
	URL     *string  `json:"url,omitempty" nullable:"true" doc:"Runtime override; empty string clears it"`
	Enabled *bool    `json:"enabled,omitempty"`
}

type WebhookConfigInput struct {
	Body *WebhookConfigRequest `required:"false"`
}

// Response payloads

type HealthResponse struct {
	OK       bool   `json:"ok"`
	Service  string `json:"service" example:"protocol-webhook-demo"`
	Database string `json:"database" enum:"memory,sqlite,postgres"`
}

type WebhookConfigResponse struct {
	URL     *string `json:"url"`
	Enabled bool    `json:"enabled"`
	Source  string  `json:"source" enum:"runtime,env,config.json"`
}

type WebhookConfigUpdateResponse struct {
	URL     *string `json:"url"`
	Enabled bool    `json:"enabled"`
}

type ResetResponse struct {
	Message       string `json:"message" example:"Mock data reset"`
	ProtocolCount int    `json:"protocolCount"`
}

type healthOutput struct {
	Body HealthResponse
}

type usersOutput struct {
	Body []domain.User
}

type protocolsOutput struct {
	Body []domain.Protocol
}

type protocolDetailOutput struct {
	Body engine.ProtocolDetail
}

type completionOutput struct {
	Body engine.Completion
}

type webhookConfigOutput struct {
	Body WebhookConfigResponse
}

type webhookConfigUpdateOutput struct {
	Body WebhookConfigUpdateResponse
}

type resetOutput struct {
	Body ResetResponse
}

func urlOrNull(url string) *string {
	if url == "" {
		return nil
	}
	return &url
}
