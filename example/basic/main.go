// Demo: two in-process clients place a voice call through a local
// signaling relay.
//
// Build: go build -o call_example ./example/basic
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/mindflow/call_core/pkg/call"
	"github.com/mindflow/call_core/pkg/media"
	"github.com/mindflow/call_core/pkg/signaling"
	"github.com/mindflow/call_core/pkg/signalserver"
)

func main() {
	fmt.Println("=== Call Core Basic Example ===")
	fmt.Println()

	// 1. Local signaling relay
	fmt.Println("1. Starting signaling relay...")
	serverConfig := signalserver.DefaultConfig()
	serverConfig.Logger = zerolog.Nop()
	server := signalserver.NewServer(serverConfig, signalserver.AuthenticatorFunc(func(token string) (string, error) {
		// The token is the user ID in this demo.
		if token == "" {
			return "", signalserver.ErrInvalidToken
		}
		return token, nil
	}))
	server.Start()
	defer server.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		fmt.Printf("   Error: %v\n", err)
		return
	}
	httpServer := &http.Server{Handler: server}
	go httpServer.Serve(ln)
	defer httpServer.Close()

	wsURL := "ws://" + ln.Addr().String()
	fmt.Printf("   Relay listening at %s\n", wsURL)

	// 2. Two clients
	fmt.Println("\n2. Connecting alice and bob...")
	alice, aliceStatus := newPeer(wsURL, "alice")
	defer alice.Close()
	bob, bobStatus := newPeer(wsURL, "bob")
	defer bob.Close()

	// 3. Dial
	fmt.Println("\n3. alice dials bob (voice)...")
	if err := alice.Dial("bob", call.MediaVoice); err != nil {
		fmt.Printf("   Error: %v\n", err)
		return
	}

	// 4. Answer when it rings
	fmt.Println("\n4. Waiting for bob's phone to ring...")
	if !waitState(bobStatus, call.StateRinging, 10*time.Second) {
		fmt.Println("   Error: bob never rang")
		return
	}
	st := bob.Status()
	fmt.Printf("   Ringing: incoming %s call from %s\n", st.Media, st.PeerID)
	if err := bob.Accept(); err != nil {
		fmt.Printf("   Error: %v\n", err)
		return
	}

	// 5. Media negotiation
	fmt.Println("\n5. Negotiating media...")
	if !waitState(aliceStatus, call.StateConnected, 30*time.Second) {
		fmt.Println("   Error: call never connected")
		return
	}
	waitState(bobStatus, call.StateConnected, 30*time.Second)
	fmt.Println("   Connected on both sides")

	// 6. In-call controls
	fmt.Println("\n6. In-call controls...")
	muted, err := alice.ToggleMute()
	if err != nil {
		fmt.Printf("   Error: %v\n", err)
	} else {
		fmt.Printf("   alice muted: %v\n", muted)
	}

	time.Sleep(2 * time.Second)
	fmt.Printf("   Call duration so far: %v\n", alice.Status().Duration().Round(time.Millisecond))

	// 7. Hang up
	fmt.Println("\n7. alice hangs up...")
	if err := alice.HangUp(); err != nil {
		fmt.Printf("   Error: %v\n", err)
		return
	}
	waitState(bobStatus, call.StateEnded, 10*time.Second)
	fmt.Printf("   bob sees: %s (%s)\n", bob.Status().State, bob.Status().Reason)

	fmt.Println("\n=== Example Complete ===")
}

// peer bundles a transport and a coordinator for one user.
type peer struct {
	*call.Coordinator
	transport *signaling.Transport
}

func (p *peer) Close() {
	p.Coordinator.Close()
	p.transport.Close()
}

func newPeer(wsURL, userID string) (*peer, <-chan call.Status) {
	tokens := signaling.TokenFunc(func(context.Context) (string, error) {
		return userID, nil
	})
	transport := signaling.NewTransport(signaling.DefaultTransportConfig(wsURL, tokens))

	coordinator := call.NewCoordinator(call.DefaultConfig(), transport, func(kind media.CaptureKind) (*media.Negotiator, error) {
		engine, err := media.NewPionEngine(media.DefaultPionEngineConfig())
		if err != nil {
			return nil, err
		}
		return media.NewNegotiator(engine, media.DefaultNegotiatorConfig()), nil
	})

	status, _ := coordinator.Subscribe()
	coordinator.Start()
	transport.Connect()
	return &peer{Coordinator: coordinator, transport: transport}, status
}

// waitState consumes the status stream until the wanted state shows up.
func waitState(status <-chan call.Status, want call.State, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		select {
		case st, ok := <-status:
			if !ok {
				return false
			}
			if st.State == want {
				return true
			}
		case <-deadline:
			return false
		}
	}
}
