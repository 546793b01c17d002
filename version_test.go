package litani

import "testing"

func TestSchemaVersionString(t *testing.T) {
	for _, tt := range []struct {
		v    SchemaVersion
		want string
	}{
		{SchemaVersion{1, 0, 0}, "1.0.0"},
		{SchemaVersion{2, 3, 4}, "2.3.4"},
		{SchemaVersion{}, "0.0.0"},
	} {
		if got := tt.v.String(); got != tt.want {
			t.Errorf("SchemaVersion(%+v).String() = %q, want %q", tt.v, got, tt.want)
		}
	}
}

func TestCurrentSchemaVersion(t *testing.T) {
	if CurrentSchemaVersion.Major != 1 {
		t.Errorf("CurrentSchemaVersion.Major = %d, want 1", CurrentSchemaVersion.Major)
	}
}
