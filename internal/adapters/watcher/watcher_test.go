package watcher

import (
	"testing"

	"github.com/fsnotify/fsnotify"
)

func TestFsnotifyOpToOperation(t *testing.T) {
	tests := []struct {
		name     string
		op       fsnotify.Op
		expected Operation
	}{
		{
			name:     "Remove returns OpDelete",
			op:       fsnotify.Remove,
			expected: OpDelete,
		},
		{
			name:     "Rename returns OpDelete",
			op:       fsnotify.Rename,
			expected: OpDelete,
		},
		{
			name:     "Create returns OpCreate",
			op:       fsnotify.Create,
			expected: OpCreate,
		},
		{
			name:     "Write returns OpModify",
			op:       fsnotify.Write,
			expected: OpModify,
		},
		{
			name:     "Remove takes precedence over Write",
			op:       fsnotify.Remove | fsnotify.Write,
			expected: OpDelete,
		},
		{
			name:     "Create takes precedence over Write",
			op:       fsnotify.Create | fsnotify.Write,
			expected: OpCreate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := fsnotifyOpToOperation(tt.op)
			if result != tt.expected {
				t.Errorf("fsnotifyOpToOperation(%v) = %v, want %v", tt.op, result, tt.expected)
			}
		})
	}
}

func TestOperationString(t *testing.T) {
	tests := []struct {
		op       Operation
		expected string
	}{
		{OpCreate, "create"},
		{OpModify, "modify"},
		{OpDelete, "delete"},
		{Operation(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.op.String(); got != tt.expected {
				t.Errorf("Operation.String() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestIsCatalogFile(t *testing.T) {
	tests := []struct {
		path     string
		expected bool
	}{
		{"laz.yaml", true},
		{"mdt-2m.YAML", true},
		{"mds.yml", true},
		{"/etc/cddfetch/catalogs/laz.yaml", true},
		{"notes.txt", false},
		{"laz.yaml.bak", false},
		{"yaml", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := isCatalogFile(tt.path); got != tt.expected {
				t.Errorf("isCatalogFile(%q) = %v, want %v", tt.path, got, tt.expected)
			}
		})
	}
}

func TestUpdatePendingEvent(t *testing.T) {
	tests := []struct {
		name       string
		existingOp Operation
		newOp      Operation
		expected   Operation
	}{
		{"delete then create means recreated", OpDelete, OpCreate, OpCreate},
		{"delete wins over modify", OpModify, OpDelete, OpDelete},
		{"modify after modify stays modify", OpModify, OpModify, OpModify},
		{"create then modify stays create", OpCreate, OpModify, OpCreate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &Watcher{}
			existing := &pendingEvent{op: tt.existingOp}
			w.updatePendingEvent(existing, tt.newOp)
			if existing.op != tt.expected {
				t.Errorf("updatePendingEvent(%v, %v) = %v, want %v",
					tt.existingOp, tt.newOp, existing.op, tt.expected)
			}
		})
	}
}
