// Package courier is an SMTP submission client.
//
// # Sending
//
// Build a message, create a Client for a server and send:
//
//	email, err := message.NewBuilder().
//	    From("Alice <alice@example.com>").
//	    To("bob@example.org").
//	    Subject("Hello").
//	    TextBody("Hi Bob").
//	    Build()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	client, err := courier.NewClient(courier.Configuration{
//	    Server: courier.Server{
//	        Hostname:   "smtp.example.com",
//	        Encryption: courier.StartTLS{Mode: courier.Always},
//	    },
//	    Credentials: &courier.Credentials{Username: "alice", Password: "secret"},
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	result, err := client.Send(ctx, email)
//
// Each Send opens one connection, conducts one SMTP session and closes the
// connection, whatever the outcome. Nothing is retried.
//
// # Configuration
//
// FromEnv reads SMTP_HOST, SMTP_PORT, SMTP_ENCRYPTION, SMTP_TIMEOUT,
// SMTP_USERNAME and SMTP_PASSWORD (plus a few optional extras) through an
// injected lookup function:
//
//	cfg := courier.FromEnv(os.LookupEnv)
//
// LoadFile reads a YAML file and applies the same variables on top.
//
// # Errors
//
// Failures are one of *ConnectionError, *AuthenticationError,
// *DeliveryError or *ProtocolError. Each carries a Kind and, when the server
// answered, its Reply. Match kinds with errors.Is:
//
//	if errors.Is(err, courier.ErrEncryptionUnavailable) {
//	    // server would not upgrade
//	}
//
// A message accepted for only some recipients returns both a Result and a
// DeliveryError of kind PartialRecipientsRejected.
package courier
