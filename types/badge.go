package types

// TokenID identifies a minted badge. The first badge is 1.
type TokenID uint64

// Badge is a non-transferable achievement credential bound to Owner.
type Badge struct {
	TokenID       TokenID `cbor:"1,keyasint" json:"token_id"`
	Owner         Address `cbor:"2,keyasint" json:"owner"`
	CourseName    string  `cbor:"3,keyasint" json:"course_name"`
	RecipientName string  `cbor:"4,keyasint" json:"recipient_name"`
	Hours         uint64  `cbor:"5,keyasint" json:"hours"`
	IssuedAt      uint64  `cbor:"6,keyasint" json:"issued_at"` // engine sequence, 0 outside the engine
}
