package envelope

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
)

// RemotePassword is the secret bundle a remote needs to reach a home:
// the home's public key and the remote's private key, both as PEM. It
// is serialized to BSON and saved once as an .egps file; treat the
// in-memory copy as sensitive and Wipe it after saving.
type RemotePassword struct {
	HomePublicKey    []byte
	RemotePrivateKey []byte
}

// NewRemotePassword derives the password bundle from a generated key
// pair: the home key contributes its public half, the remote key is
// included whole.
func NewRemotePassword(home, remote *rsa.PrivateKey) (*RemotePassword, error) {
	pubDER, err := x509.MarshalPKIXPublicKey(&home.PublicKey)
	if err != nil {
		return nil, errors.Wrap(err, "couldn't encode home public key")
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(remote)
	if err != nil {
		return nil, errors.Wrap(err, "couldn't encode remote private key")
	}
	return &RemotePassword{
		HomePublicKey:    pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}),
		RemotePrivateKey: pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER}),
	}, nil
}

// MarshalBSON encodes the bundle with the PEM blobs as BSON strings,
// the form remote clients read.
func (p *RemotePassword) MarshalBSON() ([]byte, error) {
	return bson.Marshal(bson.D{
		{Key: "home_public_key", Value: string(p.HomePublicKey)},
		{Key: "remote_private_key", Value: string(p.RemotePrivateKey)},
	})
}

func (p *RemotePassword) UnmarshalBSON(data []byte) error {
	var doc struct {
		HomePublicKey    string `bson:"home_public_key"`
		RemotePrivateKey string `bson:"remote_private_key"`
	}
	if err := bson.Unmarshal(data, &doc); err != nil {
		return err
	}
	p.HomePublicKey = []byte(doc.HomePublicKey)
	p.RemotePrivateKey = []byte(doc.RemotePrivateKey)
	return nil
}

var (
	_ bson.Marshaler   = (*RemotePassword)(nil)
	_ bson.Unmarshaler = (*RemotePassword)(nil)
)

// Save writes the bundle to path (mode 0600) and wipes the in-memory
// copy along with the intermediate serialization buffer.
func (p *RemotePassword) Save(path string) error {
	buf, err := bson.Marshal(p)
	if err != nil {
		return errors.Wrap(err, "failed to serialize password")
	}
	defer zero(buf)
	defer p.Wipe()
	if err := os.WriteFile(path, buf, 0o600); err != nil {
		return errors.Wrap(err, "failed to write password")
	}
	return nil
}

// Wipe zeroes the key material.
func (p *RemotePassword) Wipe() {
	zero(p.HomePublicKey)
	zero(p.RemotePrivateKey)
	p.HomePublicKey = nil
	p.RemotePrivateKey = nil
}
