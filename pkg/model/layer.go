package model

// Layer is a single filesystem change-set: a root tree plus the
// environment and annotations declared by the build that produced it.
type Layer struct {
	Root        Digest            `cbor:"1,keyasint" json:"root"`
	Env         []string          `cbor:"2,keyasint,omitempty" json:"env,omitempty"`
	Annotations map[string]string `cbor:"3,keyasint,omitempty" json:"annotations,omitempty"`
}

// Kind implements Object.
func (l *Layer) Kind() ObjectKind { return KindLayer }

// ChildObjects returns the root tree digest.
func (l *Layer) ChildObjects() []Digest {
	if l.Root.IsNull() {
		return nil
	}
	return []Digest{l.Root}
}

// Digest computes the content digest of this layer.
func (l *Layer) Digest() (Digest, error) {
	_, d, err := EncodedDigest(l)
	return d, err
}

// Platform is an ordered stack of layer (or nested platform) digests,
// bottom-to-top: when composed, later stack members win on path
// conflicts.
type Platform struct {
	Stack []Digest `cbor:"1,keyasint" json:"stack"`
}

// Kind implements Object.
func (p *Platform) Kind() ObjectKind { return KindPlatform }

// ChildObjects returns the stack digests, bottom first.
func (p *Platform) ChildObjects() []Digest {
	return append([]Digest(nil), p.Stack...)
}

// Digest computes the content digest of this platform.
func (p *Platform) Digest() (Digest, error) {
	_, d, err := EncodedDigest(p)
	return d, err
}
