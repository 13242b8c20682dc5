package source

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"
)

// Chia services exposing an RPC endpoint.
const (
	serviceFullNode  = "full_node"
	serviceWallet    = "wallet"
	serviceHarvester = "harvester"
)

// chiaRPC posts JSON to one Chia service RPC server.
type chiaRPC struct {
	service  string
	endpoint string
	client   *http.Client
}

type rpcEnvelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func (c *chiaRPC) call(ctx context.Context, method string, params any, out any) error {
	if params == nil {
		params = struct{}{}
	}
	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("%w: marshal %s/%s: %v", ErrProtocol, c.service, method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/"+method, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: build %s/%s: %v", ErrProtocol, c.service, method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s/%s: %v", ErrConnectivity, c.service, method, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read %s/%s: %v", ErrConnectivity, c.service, method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return parseHTTPError(c.service, resp.StatusCode, payload)
	}

	var env rpcEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return fmt.Errorf("%w: decode %s/%s: %v", ErrProtocol, c.service, method, err)
	}
	if !env.Success {
		return fmt.Errorf("%w: %s/%s failed: %s", ErrConnectivity, c.service, method, strings.TrimSpace(env.Error))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("%w: decode %s/%s: %v", ErrProtocol, c.service, method, err)
	}
	return nil
}

// newServiceClient loads the private client certificate Chia issues to a
// service under <sslDir>/<service>/private_<service>.{crt,key}. Chia RPC
// servers present certificates from a private CA without a usable host name,
// so only the client side is authenticated.
func newServiceClient(sslDir, service string, timeout time.Duration) (*http.Client, error) {
	if sslDir == "" {
		return nil, fmt.Errorf("%w: chia ssl directory", ErrNotConfigured)
	}
	base := filepath.Join(sslDir, service, "private_"+service)
	cert, err := tls.LoadX509KeyPair(base+".crt", base+".key")
	if err != nil {
		return nil, fmt.Errorf("%w: %s client certificate: %v", ErrNotConfigured, service, err)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{
		Certificates:       []tls.Certificate{cert},
		InsecureSkipVerify: true, //nolint:gosec // private CA, see above
		MinVersion:         tls.VersionTLS12,
	}
	return &http.Client{Timeout: timeout, Transport: transport}, nil
}
