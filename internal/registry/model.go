// v1
// internal/registry/model.go
package registry

// Device is the identity record for one sensor, keyed by its public key.
// Revocation is terminal; records are never physically deleted.
type Device struct {
	PublicKey        string `db:"public_key" json:"publicKey"`
	MACAddress       string `db:"mac_address" json:"macAddress"`
	TokenAddress     string `db:"token_address" json:"identityTokenAddress,omitempty"`
	LastTxRef        string `db:"last_tx_ref" json:"lastTxRef,omitempty"`
	OwnerAddress     string `db:"owner_address" json:"ownerAddress,omitempty"`
	LastSeen         int64  `db:"last_seen" json:"lastSeenTimestamp,omitempty"`
	Revoked          bool   `db:"revoked" json:"revoked"`
	Challenge        string `db:"challenge" json:"-"`
	ChallengeExpires int64  `db:"challenge_expires" json:"-"`
}

// Patch is a partial update applied by Upsert. Nil fields are left untouched;
// a non-nil pointer to the zero value clears the field.
type Patch struct {
	MACAddress       *string
	TokenAddress     *string
	LastTxRef        *string
	OwnerAddress     *string
	LastSeen         *int64
	Revoked          *bool
	Challenge        *string
	ChallengeExpires *int64
}

func StringPtr(s string) *string { return &s }
func Int64Ptr(n int64) *int64    { return &n }
func BoolPtr(b bool) *bool       { return &b }
