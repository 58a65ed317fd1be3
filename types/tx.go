package types

import "fmt"

// TxKind selects the operation a transaction carries.
type TxKind string

const (
	TxMint           TxKind = "mint"
	TxBurn           TxKind = "burn"
	TxTransfer       TxKind = "transfer"
	TxApprove        TxKind = "approve"
	TxTransferFrom   TxKind = "transfer_from"
	TxCreateProposal TxKind = "create_proposal"
	TxVote           TxKind = "vote"
	TxMintBadge      TxKind = "mint_badge"
	TxTransferBadge  TxKind = "transfer_badge"
)

// Tx is a signed request from one caller identity. Payload is the
// deterministic CBOR of the message matching Kind.
type Tx struct {
	ChainID   string    `cbor:"1,keyasint"`
	Sender    Address   `cbor:"2,keyasint"`
	Nonce     uint64    `cbor:"3,keyasint"`
	Kind      TxKind    `cbor:"4,keyasint"`
	Payload   []byte    `cbor:"5,keyasint"`
	PubKey    PublicKey `cbor:"6,keyasint"`
	Signature Signature `cbor:"7,keyasint"`
}

// Msg is implemented by every transaction payload.
type Msg interface {
	Kind() TxKind
}

// MsgMint credits To with Amount. Owner only.
type MsgMint struct {
	To     Address `cbor:"1,keyasint"`
	Amount Amount  `cbor:"2,keyasint"`
}

// MsgBurn destroys Amount of the sender's balance.
type MsgBurn struct {
	Amount Amount `cbor:"1,keyasint"`
}

// MsgTransfer moves Amount from the sender to To.
type MsgTransfer struct {
	To     Address `cbor:"1,keyasint"`
	Amount Amount  `cbor:"2,keyasint"`
}

// MsgApprove sets the sender's allowance for Spender.
type MsgApprove struct {
	Spender Address `cbor:"1,keyasint"`
	Amount  Amount  `cbor:"2,keyasint"`
}

// MsgTransferFrom spends the sender's allowance over From.
type MsgTransferFrom struct {
	From   Address `cbor:"1,keyasint"`
	To     Address `cbor:"2,keyasint"`
	Amount Amount  `cbor:"3,keyasint"`
}

// MsgCreateProposal opens a new proposal.
type MsgCreateProposal struct {
	Description string `cbor:"1,keyasint"`
}

// MsgVote casts the sender's single vote on a proposal.
type MsgVote struct {
	ProposalID ProposalID `cbor:"1,keyasint"`
	Support    bool       `cbor:"2,keyasint"`
}

// MsgMintBadge issues a badge to Recipient. Issuer only.
type MsgMintBadge struct {
	Recipient     Address `cbor:"1,keyasint"`
	CourseName    string  `cbor:"2,keyasint"`
	RecipientName string  `cbor:"3,keyasint"`
	Hours         uint64  `cbor:"4,keyasint"`
}

// MsgTransferBadge attempts to move a badge.
type MsgTransferBadge struct {
	From    Address `cbor:"1,keyasint"`
	To      Address `cbor:"2,keyasint"`
	TokenID TokenID `cbor:"3,keyasint"`
}

func (MsgMint) Kind() TxKind           { return TxMint }
func (MsgBurn) Kind() TxKind           { return TxBurn }
func (MsgTransfer) Kind() TxKind       { return TxTransfer }
func (MsgApprove) Kind() TxKind        { return TxApprove }
func (MsgTransferFrom) Kind() TxKind   { return TxTransferFrom }
func (MsgCreateProposal) Kind() TxKind { return TxCreateProposal }
func (MsgVote) Kind() TxKind           { return TxVote }
func (MsgMintBadge) Kind() TxKind      { return TxMintBadge }
func (MsgTransferBadge) Kind() TxKind  { return TxTransferBadge }

// NewTx builds an unsigned transaction carrying msg.
func NewTx(chainID string, sender Address, nonce uint64, msg Msg) (*Tx, error) {
	payload, err := Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", msg.Kind(), err)
	}
	return &Tx{
		ChainID: chainID,
		Sender:  sender,
		Nonce:   nonce,
		Kind:    msg.Kind(),
		Payload: payload,
	}, nil
}

// DecodeMsg decodes the payload of tx into its typed message.
func DecodeMsg(tx *Tx) (Msg, error) {
	var msg Msg
	switch tx.Kind {
	case TxMint:
		msg = &MsgMint{}
	case TxBurn:
		msg = &MsgBurn{}
	case TxTransfer:
		msg = &MsgTransfer{}
	case TxApprove:
		msg = &MsgApprove{}
	case TxTransferFrom:
		msg = &MsgTransferFrom{}
	case TxCreateProposal:
		msg = &MsgCreateProposal{}
	case TxVote:
		msg = &MsgVote{}
	case TxMintBadge:
		msg = &MsgMintBadge{}
	case TxTransferBadge:
		msg = &MsgTransferBadge{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTxKind, tx.Kind)
	}
	if err := Unmarshal(tx.Payload, msg); err != nil {
		return nil, fmt.Errorf("%w: failed to decode %s payload: %v", ErrInvalidTx, tx.Kind, err)
	}
	return msg, nil
}

// TxSignBytes returns the bytes to sign for a transaction
func TxSignBytes(chainID string, tx *Tx) []byte {
	canonical := &Tx{
		ChainID: tx.ChainID,
		Sender:  tx.Sender,
		Nonce:   tx.Nonce,
		Kind:    tx.Kind,
		Payload: tx.Payload,
		PubKey:  tx.PubKey,
		// Signature is empty for signing
	}

	data, err := Marshal(canonical)
	if err != nil {
		panic(fmt.Sprintf("failed to marshal tx for signing: %v", err))
	}
	return append([]byte(chainID), data...)
}

// TxHash returns the hash identifying a signed transaction
func TxHash(tx *Tx) Hash {
	data, err := Marshal(tx)
	if err != nil {
		panic(fmt.Sprintf("failed to marshal tx for hashing: %v", err))
	}
	return HashTxBytes(data)
}

// VerifyTx performs the stateless checks: chain id, sender derived from the
// public key, and signature.
func VerifyTx(chainID string, tx *Tx) error {
	if tx == nil {
		return ErrInvalidTx
	}
	if tx.ChainID != chainID {
		return fmt.Errorf("%w: expected %q, got %q", ErrChainIDMismatch, chainID, tx.ChainID)
	}
	if len(tx.PubKey.Data) != PublicKeySize {
		return fmt.Errorf("%w: public key must be %d bytes", ErrInvalidSignature, PublicKeySize)
	}
	if AddressFromPubKey(tx.PubKey) != tx.Sender {
		return fmt.Errorf("%w: sender %s does not match public key", ErrInvalidSignature, tx.Sender)
	}
	if len(tx.Signature.Data) == 0 {
		return fmt.Errorf("%w: tx has no signature", ErrInvalidSignature)
	}
	if !VerifySignature(tx.PubKey, TxSignBytes(chainID, tx), tx.Signature) {
		return ErrInvalidSignature
	}
	return nil
}
