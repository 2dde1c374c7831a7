package v2ray

type createUserRequest struct {
	UUID  string `json:"uuid"`
	Email string `json:"email"`
}

type userResponse struct {
	UUID  string `json:"uuid"`
	Email string `json:"email"`
	Link  string `json:"link"`
}

type userListResponse struct {
	Users []userResponse `json:"users"`
}

type trafficResponse struct {
	TotalBytes int64 `json:"total_bytes"`
}
