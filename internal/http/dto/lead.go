package dto

import "cyodesign.app/atelier/internal/model"

// CreateLeadRequest is the submit_lead arguments plus the conversation context.
// Field rules are enforced by the lead service.
type CreateLeadRequest struct {
	ConversationID string `json:"conversation_id" binding:"required,max=128"`
	model.LeadRequest
	ImageURLs []string `json:"image_urls" binding:"omitempty,max=8,dive,url"`
}

func (r CreateLeadRequest) ToModel() model.Lead {
	return model.Lead{
		ConversationID: r.ConversationID,
		LeadRequest:    r.LeadRequest,
		ImageURLs:      r.ImageURLs,
	}
}

type CreateLeadResponse struct {
	ID     int64  `json:"id,string"`
	Status string `json:"status"`
}
