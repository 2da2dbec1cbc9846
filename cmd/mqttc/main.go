// Command mqttc is a thin exerciser of the session core's public API: it
// opens one connection against an endpoint, either publishes a single
// message or subscribes and prints everything it receives, then exits.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqttpaho "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/sync/errgroup"

	mqtt "github.com/mqttgo/mqttcore"
	"github.com/mqttgo/mqttcore/packet"
)

func main() {
	var (
		endpoint = flag.String("endpoint", "tcp://127.0.0.1:1883", "broker URL (tcp/tls/ws/wss/quic scheme)")
		clientID = flag.String("id", "", "client id (default: random)")
		topic    = flag.String("topic", "mqttc/demo", "topic to publish or subscribe")
		payload  = flag.String("payload", "hello from mqttc", "payload for -mode publish")
		qos      = flag.Int("qos", 0, "QoS level (0, 1 or 2)")
		v5       = flag.Bool("v5", false, "use MQTT 5.0 instead of 3.1.1")
		mode     = flag.String("mode", "subscribe", "publish or subscribe")
		compare  = flag.Bool("compare", false, "also publish through eclipse/paho.mqtt.golang and report both round-trip times")
	)
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	version := packet.Version311
	if *v5 {
		version = packet.Version5
	}

	opts := []mqtt.Option{
		mqtt.Endpoint(*endpoint),
		mqtt.ProtocolVersion(version),
	}
	if *clientID != "" {
		opts = append(opts, mqtt.WithIdentity(mqtt.Identity{ClientID: *clientID}))
	}
	session := mqtt.New(opts...)
	session.Observe(mqtt.Observer{
		OnStatus: func(old, new mqtt.Status) { log.Printf("status: %s -> %s", old, new) },
		OnMessage: func(msg mqtt.Message) {
			log.Printf("recv topic=%s qos=%d payload=%s", msg.Topic, msg.QoS, msg.Payload)
		},
		OnError: func(err error) { log.Printf("error: %v", err) },
	})

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return waitForSignal(gctx) })
	group.Go(func() error {
		if err := session.Open(gctx, true); err != nil {
			return fmt.Errorf("open: %w", err)
		}
		defer session.Close(context.Background(), packet.CodeNormalDisconnection.Code)

		switch *mode {
		case "publish":
			return runPublish(gctx, session, *topic, *payload, byte(*qos), *compare, *endpoint)
		default:
			return runSubscribe(gctx, session, *topic, byte(*qos))
		}
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		log.Fatal(err)
	}
}

func waitForSignal(ctx context.Context) error {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case s := <-sig:
		return fmt.Errorf("got signal: %s", s)
	}
}

func runSubscribe(ctx context.Context, session *mqtt.Session, topic string, qos byte) error {
	_, err := session.Subscribe(ctx, []packet.Subscription{{TopicFilter: topic, QoS: qos}}, nil)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	log.Printf("subscribed to %q, waiting for messages (ctrl-c to stop)", topic)
	<-ctx.Done()
	return ctx.Err()
}

func runPublish(ctx context.Context, session *mqtt.Session, topic, payload string, qos byte, compare bool, endpoint string) error {
	start := time.Now()
	_, err := session.Publish(ctx, mqtt.Message{Topic: topic, Payload: []byte(payload), QoS: mqtt.QoS(qos)})
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	log.Printf("mqttc publish: %s", time.Since(start))

	if !compare {
		return nil
	}
	return publishViaPaho(endpoint, topic, payload, qos)
}

// publishViaPaho round-trips the same publish through paho.mqtt.golang
// and logs its elapsed time alongside mqttc's, as a quick sanity
// comparison against a widely deployed client.
func publishViaPaho(endpoint, topic, payload string, qos byte) error {
	opts := mqttpaho.NewClientOptions().AddBroker(endpoint).SetConnectTimeout(10 * time.Second)
	client := mqttpaho.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("paho connect: %w", token.Error())
	}
	defer client.Disconnect(250)

	start := time.Now()
	token := client.Publish(topic, byte(qos), false, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("paho publish: %w", token.Error())
	}
	log.Printf("paho publish: %s", time.Since(start))
	return nil
}
