package solana

import (
	"crypto/sha256"

	"github.com/gagliardetto/solana-go"
)

// anchorDiscriminator returns the 8-byte instruction discriminator for a
// global Anchor instruction: the first 8 bytes of sha256("global:<name>").
func anchorDiscriminator(name string) []byte {
	h := sha256.Sum256([]byte("global:" + name))
	return h[:8]
}

// NewInitializeInstruction builds the program's initialize instruction.
// The generated program scaffold declares no accounts and no arguments,
// so the instruction data is just the discriminator.
func NewInitializeInstruction(programID solana.PublicKey) solana.Instruction {
	return solana.NewInstruction(programID, solana.AccountMetaSlice{}, anchorDiscriminator("initialize"))
}
