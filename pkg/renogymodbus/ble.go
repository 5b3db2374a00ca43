package renogymodbus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"
)

const (
	// GATT characteristics exposed by BT-1/BT-2 modules.
	writeCharacteristicUUID  = "0000ffd1-0000-1000-8000-00805f9b34fb"
	notifyCharacteristicUUID = "0000fff1-0000-1000-8000-00805f9b34fb"

	// BT module advertised name prefix, e.g. BT-TH-66F94E1C.
	ModuleNamePrefix = "BT-TH"
)

var enableAdapterOnce sync.Once

func enableAdapter() error {
	var err error
	enableAdapterOnce.Do(func() {
		err = bluetooth.DefaultAdapter.Enable()
	})
	return err
}

// BLETransport connects to a BT module through the host radio.
// One instance per module MAC; implements Transport.
type BLETransport struct {
	mac    string
	logger *zap.Logger

	mu         sync.Mutex
	device     bluetooth.Device
	writeChar  bluetooth.DeviceCharacteristic
	notifyCh   chan []byte
	closeNotif sync.Once
	connected  bool
}

// NormalizeMAC canonicalizes a MAC address to XX:XX:XX:XX:XX:XX.
func NormalizeMAC(mac string) (string, error) {
	clean := strings.ToUpper(strings.NewReplacer(":", "", "-", "", " ", "").Replace(mac))
	if len(clean) != 12 {
		return "", fmt.Errorf("invalid MAC address %q", mac)
	}
	for _, c := range clean {
		if !strings.ContainsRune("0123456789ABCDEF", c) {
			return "", fmt.Errorf("invalid MAC address %q", mac)
		}
	}
	parts := make([]string, 6)
	for i := range parts {
		parts[i] = clean[i*2 : i*2+2]
	}
	return strings.Join(parts, ":"), nil
}

func NewBLETransport(mac string, logger *zap.Logger) (*BLETransport, error) {
	normalized, err := NormalizeMAC(mac)
	if err != nil {
		return nil, err
	}
	return &BLETransport{mac: normalized, logger: logger}, nil
}

// Connect scans for the module, connects and subscribes to notifications.
// The returned channel closes when the peripheral disconnects.
func (t *BLETransport) Connect(ctx context.Context) (<-chan []byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := enableAdapter(); err != nil {
		return nil, fmt.Errorf("enable bluetooth adapter: %w", err)
	}
	adapter := bluetooth.DefaultAdapter

	address, err := t.findAddress(ctx, adapter)
	if err != nil {
		return nil, err
	}

	device, err := adapter.Connect(address, bluetooth.ConnectionParams{
		ConnectionTimeout: bluetooth.NewDuration(30 * time.Second),
	})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", t.mac, err)
	}

	writeChar, notifyChar, err := discoverCharacteristics(device)
	if err != nil {
		_ = device.Disconnect()
		return nil, err
	}

	notifyCh := make(chan []byte, 16)
	t.device = device
	t.writeChar = writeChar
	t.notifyCh = notifyCh
	t.closeNotif = sync.Once{}
	t.connected = true

	err = notifyChar.EnableNotifications(func(buf []byte) {
		chunk := make([]byte, len(buf))
		copy(chunk, buf)
		select {
		case notifyCh <- chunk:
		default:
			t.logger.Warn("notification dropped, buffer full", zap.String("mac", t.mac))
		}
	})
	if err != nil {
		_ = device.Disconnect()
		return nil, fmt.Errorf("enable notifications %s: %w", t.mac, err)
	}

	adapter.SetConnectHandler(func(dev bluetooth.Device, connected bool) {
		if !connected {
			t.handleDisconnect()
		}
	})

	t.logger.Info("BLE module connected", zap.String("mac", t.mac))
	return notifyCh, nil
}

func (t *BLETransport) findAddress(ctx context.Context, adapter *bluetooth.Adapter) (bluetooth.Address, error) {
	var (
		found   bluetooth.Address
		ok      bool
		scanErr error
		done    = make(chan struct{})
	)

	scanCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	go func() {
		defer close(done)
		scanErr = adapter.Scan(func(a *bluetooth.Adapter, result bluetooth.ScanResult) {
			select {
			case <-scanCtx.Done():
				_ = a.StopScan()
				return
			default:
			}
			if strings.EqualFold(result.Address.String(), t.mac) {
				found = result.Address
				ok = true
				_ = a.StopScan()
			}
		})
	}()

	select {
	case <-done:
	case <-scanCtx.Done():
		_ = adapter.StopScan()
		<-done
	}

	if scanErr != nil {
		return bluetooth.Address{}, fmt.Errorf("scan for %s: %w", t.mac, scanErr)
	}
	if !ok {
		return bluetooth.Address{}, fmt.Errorf("module %s not found: %w", t.mac, ErrConnectionLost)
	}
	return found, nil
}

func discoverCharacteristics(device bluetooth.Device) (write, notify bluetooth.DeviceCharacteristic, err error) {
	services, err := device.DiscoverServices(nil)
	if err != nil {
		return write, notify, fmt.Errorf("discover services: %w", err)
	}
	var haveWrite, haveNotify bool
	for _, svc := range services {
		chars, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			continue
		}
		for _, char := range chars {
			switch char.UUID().String() {
			case writeCharacteristicUUID:
				write = char
				haveWrite = true
			case notifyCharacteristicUUID:
				notify = char
				haveNotify = true
			}
		}
	}
	if !haveWrite || !haveNotify {
		return write, notify, fmt.Errorf("module does not expose the expected characteristics")
	}
	return write, notify, nil
}

func (t *BLETransport) handleDisconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return
	}
	t.connected = false
	t.logger.Warn("BLE module disconnected", zap.String("mac", t.mac))
	t.closeNotif.Do(func() { close(t.notifyCh) })
}

func (t *BLETransport) Write(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return ErrConnectionLost
	}
	if _, err := t.writeChar.WriteWithoutResponse(data); err != nil {
		return fmt.Errorf("write %s: %w", t.mac, err)
	}
	return nil
}

func (t *BLETransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return nil
	}
	t.connected = false
	t.closeNotif.Do(func() { close(t.notifyCh) })
	return t.device.Disconnect()
}

// ScanResult is one discovered BT module.
type ScanResult struct {
	Name    string
	Address string
	RSSI    int16
}

// ScanModules scans for advertising BT modules until the context expires and
// returns the deduplicated results.
func ScanModules(ctx context.Context) ([]ScanResult, error) {
	if err := enableAdapter(); err != nil {
		return nil, fmt.Errorf("enable bluetooth adapter: %w", err)
	}
	adapter := bluetooth.DefaultAdapter

	var (
		mu      sync.Mutex
		seen    = map[string]ScanResult{}
		done    = make(chan struct{})
		scanErr error
	)
	go func() {
		defer close(done)
		scanErr = adapter.Scan(func(a *bluetooth.Adapter, result bluetooth.ScanResult) {
			select {
			case <-ctx.Done():
				_ = a.StopScan()
				return
			default:
			}
			name := result.LocalName()
			if !strings.HasPrefix(name, ModuleNamePrefix) {
				return
			}
			mu.Lock()
			addr := result.Address.String()
			if prev, ok := seen[addr]; !ok || result.RSSI > prev.RSSI {
				seen[addr] = ScanResult{Name: name, Address: addr, RSSI: result.RSSI}
			}
			mu.Unlock()
		})
	}()

	select {
	case <-done:
	case <-ctx.Done():
		_ = adapter.StopScan()
		<-done
	}
	if scanErr != nil {
		return nil, scanErr
	}

	mu.Lock()
	defer mu.Unlock()
	results := make([]ScanResult, 0, len(seen))
	for _, r := range seen {
		results = append(results, r)
	}
	return results, nil
}
