package config

import "testing"

func TestServerValidate(t *testing.T) {
	cases := []struct {
		name       string
		srv        Server
		dirReq     bool
		dirSet     bool
		wantErr    bool
		wantErrMsg string
	}{
		{name: "port only", srv: Server{Port: 8080, FD: -1}},
		{name: "unix socket only", srv: Server{FD: -1, UnixSocket: "/tmp/wasmrt.sock"}},
		{name: "fd only", srv: Server{FD: 3}},
		{name: "none set", srv: Server{FD: -1}, wantErr: true},
		{name: "port and socket", srv: Server{Port: 8080, UnixSocket: "/tmp/x.sock"}, wantErr: true},
		{name: "http-test mode requires wasm-dir", srv: Server{Port: 8080, FD: -1}, dirReq: true, dirSet: false, wantErr: true},
		{name: "unix socket rejects wasm-dir", srv: Server{FD: -1, UnixSocket: "/tmp/x.sock"}, dirSet: true, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.srv.Validate(tc.dirReq, tc.dirSet)
			if tc.wantErr && err == nil {
				t.Fatalf("expected error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestConfigSetDefault(t *testing.T) {
	c := new(Config)
	c.setDefault()

	if c.AppInfo.Name != "wasmrt" {
		t.Errorf("expected default app name, got %q", c.AppInfo.Name)
	}
	if c.Wasm.MaxTrackedModules != 256 {
		t.Errorf("expected default MaxTrackedModules 256, got %d", c.Wasm.MaxTrackedModules)
	}
	if c.Database.Type != DBPostgres {
		t.Errorf("expected default database type postgres, got %q", c.Database.Type)
	}
}
