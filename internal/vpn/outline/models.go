package outline

type accessKey struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Password  string `json:"password"`
	Port      int    `json:"port"`
	Method    string `json:"method"`
	AccessURL string `json:"accessUrl"`
}

type accessKeyList struct {
	AccessKeys []accessKey `json:"accessKeys"`
}

type renameRequest struct {
	Name string `json:"name"`
}
