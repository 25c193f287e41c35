package envelope

import (
	"github.com/forest6511/bwbackup/pkg/crypto"
)

// Info describes an envelope without decrypting it.
type Info struct {
	Version         crypto.Version
	KDF             crypto.KDFSpec
	Legacy          bool
	TotalSize       int
	CiphertextSize  int
	PlaintextLength int
}

// Inspect parses data and reports its version and sizes. No password is needed.
func Inspect(data []byte) (*Info, error) {
	env, err := Parse(data)
	if err != nil {
		return nil, err
	}
	spec, err := crypto.Spec(env.Version)
	if err != nil {
		return nil, err
	}
	return &Info{
		Version:         env.Version,
		KDF:             spec,
		Legacy:          env.Version != crypto.VersionCurrent,
		TotalSize:       len(data),
		CiphertextSize:  len(env.Ciphertext),
		PlaintextLength: len(env.Ciphertext) - crypto.TagLength,
	}, nil
}
