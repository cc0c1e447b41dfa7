package connection

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"

	"v5deploy/internal/logging"
	"v5deploy/internal/protocol"
)

// GATT identifiers for the Brain's wireless service.
const (
	brainServiceUUID = "08590f7e-db05-467e-8757-72f6faeb13d5"
	brainWriteUUID   = "08590f7e-db05-467e-8757-72f6faeb13f5"
	brainNotifyUUID  = "08590f7e-db05-467e-8757-72f6faeb1306"
)

// bleWriteChunk keeps writes under the negotiated ATT payload.
const bleWriteChunk = 244

// BluetoothTransport is a wireless link to a Brain over GATT. Incoming
// frames arrive as notifications and are reassembled by the shared
// scanner; Receive waits on a wakeup channel fed by the notify handler.
type BluetoothTransport struct {
	device bluetooth.Device
	write  *bluetooth.DeviceCharacteristic

	mu      sync.Mutex
	scanner frameScanner
	wake    chan struct{}

	log *zap.SugaredLogger
}

// OpenBluetooth scans for an advertising Brain, optionally filtered by
// name, connects, and wires up the write/notify characteristics.
func OpenBluetooth(name string, log *zap.SugaredLogger) (*BluetoothTransport, error) {
	if log == nil {
		log = logging.Nop()
	}
	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("failed to enable bluetooth: %w", err)
	}

	log.Infof("scanning for Brain...")
	var result bluetooth.ScanResult
	found := false
	err := adapter.Scan(func(adapter *bluetooth.Adapter, r bluetooth.ScanResult) {
		local := r.LocalName()
		if local == "" {
			return
		}
		log.Debugf("advertisement: %q", local)
		if name != "" && !strings.EqualFold(local, name) {
			return
		}
		if name == "" && !strings.HasPrefix(local, "VEX") {
			return
		}
		result = r
		found = true
		adapter.StopScan()
	})
	if err != nil {
		return nil, fmt.Errorf("bluetooth scan failed: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("no Brain found advertising over bluetooth")
	}

	device, err := adapter.Connect(result.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	t := &BluetoothTransport{
		device:  device,
		scanner: frameScanner{log: log},
		wake:    make(chan struct{}, 1),
		log:     log,
	}
	if err := t.setup(); err != nil {
		device.Disconnect()
		return nil, err
	}
	return t, nil
}

func (t *BluetoothTransport) setup() error {
	svcUUID, _ := bluetooth.ParseUUID(brainServiceUUID)
	services, err := t.device.DiscoverServices([]bluetooth.UUID{svcUUID})
	if err != nil || len(services) == 0 {
		return fmt.Errorf("Brain service not found: %w", err)
	}

	chars, err := services[0].DiscoverCharacteristics(nil)
	if err != nil {
		return fmt.Errorf("failed to discover characteristics: %w", err)
	}

	var notify *bluetooth.DeviceCharacteristic
	for i := range chars {
		switch strings.ToLower(chars[i].UUID().String()) {
		case brainWriteUUID:
			t.write = &chars[i]
		case brainNotifyUUID:
			notify = &chars[i]
		}
	}
	if t.write == nil || notify == nil {
		return fmt.Errorf("Brain characteristics not found")
	}

	err = notify.EnableNotifications(func(buf []byte) {
		t.mu.Lock()
		t.scanner.append(buf)
		t.mu.Unlock()
		select {
		case t.wake <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return fmt.Errorf("failed to enable notifications: %w", err)
	}
	// Let the subscription settle before the first write.
	time.Sleep(100 * time.Millisecond)
	return nil
}

func (t *BluetoothTransport) Send(req protocol.Request) error {
	frame, err := protocol.EncodeFrame(req)
	if err != nil {
		return err
	}
	t.log.Debugf("ble -> % X", frame)
	// Linux only supports write-without-response; chunk to stay under MTU.
	for off := 0; off < len(frame); off += bleWriteChunk {
		end := off + bleWriteChunk
		if end > len(frame) {
			end = len(frame)
		}
		if _, err := t.write.WriteWithoutResponse(frame[off:end]); err != nil {
			return fmt.Errorf("bluetooth write failed: %w", err)
		}
	}
	return nil
}

func (t *BluetoothTransport) Receive(id protocol.CommandID, timeout time.Duration) (*protocol.Reply, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		t.mu.Lock()
		reply := t.scanner.next()
		for reply != nil && reply.ID != id {
			t.log.Debugf("discarding stale reply for 0x%02X/0x%02X", reply.ID.Command, reply.ID.Extended)
			reply = t.scanner.next()
		}
		t.mu.Unlock()
		if reply != nil {
			return reply, nil
		}

		select {
		case <-t.wake:
		case <-deadline.C:
			return nil, protocol.ErrNoReply
		}
	}
}

func (t *BluetoothTransport) Wireless() bool { return true }

func (t *BluetoothTransport) Close() error {
	return t.device.Disconnect()
}
