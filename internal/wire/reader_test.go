package wire

import "testing"

func TestReaderMalformedPastEnd(t *testing.T) {
	r := NewReader([]byte{1, 2, 3})

	if _, err := r.U32At(0); err == nil {
		t.Fatalf("expected MalformedPacket reading u32 from a 3-byte frame")
	}

	if _, err := r.U8At(2); err != nil {
		t.Fatalf("U8At(2) on a 3-byte frame should succeed: %v", err)
	}

	if _, err := r.U8At(3); err == nil {
		t.Fatalf("U8At(3) on a 3-byte frame should fail")
	}
}

func TestFixedStringTrailingByteDropped(t *testing.T) {
	tests := map[string]struct {
		name   string
		expLen int
	}{
		"exactly 63 bytes transmitted intact": {
			name:   repeat("a", 63),
			expLen: 63,
		},
		"64 bytes drops trailing byte to keep terminator": {
			name:   repeat("a", 64),
			expLen: 63,
		},
	}

	for tname, tc := range tests {
		t.Run(tname, func(t *testing.T) {
			w := NewWriter(64)
			w.PutFixedStringAt(0, 64, tc.name)

			r := NewReader(w.Bytes())
			got, err := r.FixedStringAt(0, 64)
			if err != nil {
				t.Fatalf("FixedStringAt: %v", err)
			}
			if len(got) != tc.expLen {
				t.Fatalf("decoded name length = %d, want %d", len(got), tc.expLen)
			}
		})
	}
}

func repeat(s string, n int) string {
	out := make([]byte, 0, n*len(s))
	for i := 0; i < n; i++ {
		out = append(out, s...)
	}
	return string(out)
}

func TestCredentialRoundTrip(t *testing.T) {
	enc, err := EncryptCredentials("testuser", "hunter2")
	if err != nil {
		t.Fatalf("EncryptCredentials: %v", err)
	}
	if len(enc)%8 != 0 {
		t.Fatalf("encrypted credential block length %d is not a multiple of 8", len(enc))
	}

	dec, err := DecryptLoginResponse(enc)
	if err != nil {
		t.Fatalf("DecryptLoginResponse: %v", err)
	}

	r := NewReader(dec)
	user, err := r.CStringAt(0)
	if err != nil {
		t.Fatalf("reading username: %v", err)
	}
	if user != "testuser" {
		t.Fatalf("username = %q, want %q", user, "testuser")
	}

	pass, err := r.CStringAt(len(user) + 1)
	if err != nil {
		t.Fatalf("reading password: %v", err)
	}
	if pass != "hunter2" {
		t.Fatalf("password = %q, want %q", pass, "hunter2")
	}
}
