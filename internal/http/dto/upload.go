package dto

type SignedURLRequest struct {
	UserID      string `json:"user_id" binding:"required,max=128"`
	Key         string `json:"key" binding:"required,max=512"`
	ContentType string `json:"content_type" binding:"omitempty,oneof=image/jpeg image/png image/webp"`
}
