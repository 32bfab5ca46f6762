package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifier(t *testing.T) {
	t.Parallel()

	c := NewClassifier(DefaultPatterns())
	tests := []struct {
		name string
		want Classification
	}{
		{"SanDisk Cruzer Blade", ClassStorage},
		{"Kingston DataTraveler 3.0", ClassStorage},
		{"Generic Mass Storage", ClassStorage},
		{"vfat disk mounted at /media/exam/USB", ClassStorage},
		{"WD Elements 25A2", ClassStorage},
		{"Logitech USB Keyboard", ClassPeripheral},
		{"Logitech HD Pro Webcam C920", ClassPeripheral},
		{"Realtek USB Card Reader Audio", ClassPeripheral},
		{"HDA Intel PCH: ALC3246 Analog", ClassBuiltIn},
		{"Integrated Camera: Integrated C", ClassBuiltIn},
		{"Linux Foundation 2.0 root hub", ClassBuiltIn},
		{"AT Translated Set 2 keyboard", ClassBuiltIn},
		{"Yubico YubiKey OTP+FIDO+CCID", ClassPeripheral},
		{"", ClassPeripheral},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, c.Classify(tt.name))
		})
	}
}

func TestClassifierPatternsAreData(t *testing.T) {
	t.Parallel()

	c := NewClassifier(Patterns{
		Storage: []string{"  ", "VAULT"},
		Exclude: []string{"vault key"},
		BuiltIn: []string{"onboard"},
	})

	assert.Equal(t, ClassStorage, c.Classify("Acme Vault 64GB"))
	assert.Equal(t, ClassPeripheral, c.Classify("Acme Vault Key"))
	assert.Equal(t, ClassBuiltIn, c.Classify("Onboard Mic"))
	assert.Equal(t, ClassPeripheral, c.Classify("SanDisk Cruzer"), "defaults do not apply")
}

func TestIdentifiable(t *testing.T) {
	t.Parallel()

	tests := map[string]bool{
		"":                  false,
		"   ":               false,
		"Unknown":           false,
		"unknown device":    false,
		"Unknown USB Thing": false,
		"SanDisk Cruzer":    true,
		"Known Unknowns":    true,
	}
	for name, want := range tests {
		assert.Equal(t, want, Identifiable(name), "name %q", name)
	}
}
