package device

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestValidateDefinition(t *testing.T) {
	tests := []struct {
		name    string
		def     Definition
		wantErr error
	}{
		{
			name: "valid",
			def:  Definition{ID: "d1", Name: "Kitchen", InputChannel: "btn0", OutputChannels: []string{"led0"}},
		},
		{
			name: "no input",
			def:  Definition{Name: "Scene", OutputChannels: []string{"led3"}},
		},
		{
			name:    "empty name",
			def:     Definition{Name: "  ", OutputChannels: []string{"led0"}},
			wantErr: ErrInvalidName,
		},
		{
			name:    "long name",
			def:     Definition{Name: strings.Repeat("x", MaxNameLength+1)},
			wantErr: ErrInvalidName,
		},
		{
			name:    "output used as input",
			def:     Definition{Name: "Bad", InputChannel: "led0"},
			wantErr: ErrInvalidChannel,
		},
		{
			name:    "input used as output",
			def:     Definition{Name: "Bad", OutputChannels: []string{"btn1"}},
			wantErr: ErrInvalidChannel,
		},
		{
			name:    "bad id",
			def:     Definition{ID: "has space", Name: "Bad"},
			wantErr: ErrInvalidID,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateDefinition(tt.def)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("ValidateDefinition() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) || !errors.Is(err, ErrInvalidDevice) {
				t.Errorf("ValidateDefinition() error = %v, want %v wrapped in ErrInvalidDevice", err, tt.wantErr)
			}
		})
	}
}

func TestValidateDefinition_Normalises(t *testing.T) {
	d, err := ValidateDefinition(Definition{
		Name:           "  Hall  ",
		InputChannel:   "BTN2",
		OutputChannels: []string{"led1", "LED0", "led1"},
	})
	if err != nil {
		t.Fatalf("ValidateDefinition() error = %v", err)
	}

	if _, err := uuid.Parse(d.ID); err != nil {
		t.Errorf("generated ID %q is not a UUID: %v", d.ID, err)
	}
	if d.Name != "Hall" {
		t.Errorf("Name = %q, want trimmed", d.Name)
	}
	if d.InputChannel != "btn2" {
		t.Errorf("InputChannel = %q, want btn2", d.InputChannel)
	}
	if !reflect.DeepEqual(d.OutputChannels, []string{"led1", "led0"}) {
		t.Errorf("OutputChannels = %v, want [led1 led0]", d.OutputChannels)
	}
}

func TestLogicalDevice_DeepCopy(t *testing.T) {
	orig := &LogicalDevice{ID: "d1", OutputChannels: []string{"led0"}, PendingState: BoolPtr(true)}
	cp := orig.DeepCopy()

	cp.OutputChannels[0] = "led7"
	*cp.PendingState = false

	if orig.OutputChannels[0] != "led0" || !*orig.PendingState {
		t.Error("DeepCopy() shares memory with the original")
	}

	var nilDevice *LogicalDevice
	if nilDevice.DeepCopy() != nil {
		t.Error("DeepCopy() of nil should be nil")
	}
}

func TestLogicalDevice_View(t *testing.T) {
	d := &LogicalDevice{ID: "d1", Name: "n", LogicalState: true, PendingState: BoolPtr(true), OutputChannels: []string{"led0"}}
	v := d.View()
	if v.ID != "d1" || !v.LogicalState || !v.Pending || len(v.OutputChannels) != 1 {
		t.Errorf("View() = %+v", v)
	}
}
