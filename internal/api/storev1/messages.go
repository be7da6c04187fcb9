// Package storev1 is the wire API of the store node: request/response messages,
// the JSON codec they travel in and the gRPC service description.
package storev1

// Address locates an object on the wire.
type Address struct {
	Name    []byte `json:"name"`
	TypeTag uint64 `json:"type_tag"`
}

// Entry is a key with its value and version.
type Entry struct {
	Key     []byte `json:"key"`
	Value   []byte `json:"value"`
	Version uint64 `json:"version"`
}

// Op kinds.
const (
	OpInsert = "insert"
	OpUpdate = "update"
)

// EntryOp is one change of a Mutate batch.
type EntryOp struct {
	Kind    string `json:"kind"`
	Key     []byte `json:"key"`
	Value   []byte `json:"value"`
	Version uint64 `json:"version,omitempty"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type RegisterResponse struct {
	AccountID string `json:"account_id"`
}

type AuthoriseRequest struct {
	Username     string              `json:"username"`
	Password     string              `json:"password"`
	AppID        string              `json:"app_id"`
	AppName      string              `json:"app_name,omitempty"`
	AppVendor    string              `json:"app_vendor,omitempty"`
	Containers   map[string][]string `json:"containers,omitempty"`
	OwnContainer bool                `json:"own_container,omitempty"`
}

type AuthoriseResponse struct {
	Token     string `json:"token"`
	AccountID string `json:"account_id"`
	KekSalt   []byte `json:"kek_salt"`
	ExpiresAt int64  `json:"expires_at"` // unix seconds
}

type PutObjectRequest struct {
	Address     Address `json:"address"`
	Entries     []Entry `json:"entries,omitempty"`
	Name        string  `json:"name,omitempty"`
	Description string  `json:"description,omitempty"`
}

type PutObjectResponse struct{}

type ClaimNameRequest struct {
	Name string `json:"name"`
}

type ClaimNameResponse struct{}

type GetEntriesRequest struct {
	Address Address `json:"address"`
}

type GetEntriesResponse struct {
	Entries []Entry `json:"entries"`
}

type ListKeysRequest struct {
	Address Address `json:"address"`
}

type ListKeysResponse struct {
	Keys [][]byte `json:"keys"`
}

type GetValueRequest struct {
	Address Address `json:"address"`
	Key     []byte  `json:"key"`
}

type GetValueResponse struct {
	Value   []byte `json:"value"`
	Version uint64 `json:"version"`
}

type MutateRequest struct {
	Address Address   `json:"address"`
	Ops     []EntryOp `json:"ops"`
}

type MutateResponse struct{}

type SetPermissionsRequest struct {
	Address   Address  `json:"address"`
	Principal string   `json:"principal"`
	Allow     []string `json:"allow"`
	Version   uint64   `json:"version"`
}

type SetPermissionsResponse struct{}
