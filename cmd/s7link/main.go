// S7link - Siemens S7 PLC Gateway TUI Application
//
// A text user interface for managing S7 PLC connections, browsing tags,
// and republishing data via REST API, MQTT, Valkey, and Kafka.
package main

import (
	"crypto/rand"
	"encoding/base64"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/crypto/bcrypt"

	"s7link/config"
	"s7link/kafka"
	"s7link/logging"
	"s7link/mqtt"
	"s7link/namespace"
	"s7link/plcman"
	"s7link/rule"
	"s7link/tagpack"
	"s7link/tui"
	"s7link/valkey"
	"s7link/web"
)

// Version is set at build time via -ldflags
var Version = "dev"

// preprocessLogDebugFlag handles --log-debug without a value by injecting "all" as the default.
// This allows users to use `--log-debug` alone to enable all protocol logging.
func preprocessLogDebugFlag() {
	args := os.Args[1:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--log-debug" || arg == "-log-debug" {
			if i+1 >= len(args) || (len(args[i+1]) > 0 && args[i+1][0] == '-') {
				os.Args = append(os.Args[:i+2], append([]string{"all"}, os.Args[i+2:]...)...)
			}
			return
		}
		if len(arg) > 11 && (arg[:12] == "--log-debug=" || arg[:11] == "-log-debug=") {
			return
		}
	}
}

// Command line flags
var (
	configPath  = flag.String("config", config.DefaultPath(), "Path to configuration file")
	showVersion = flag.Bool("version", false, "Show version and exit")
	noTUI       = flag.Bool("d", false, "Disable local TUI (headless mode)")
	noTUILong   = flag.Bool("no-tui", false, "Disable local TUI (headless mode)")
	namespaceFl = flag.String("namespace", "", "Set namespace (saved to config)")
	httpPort    = flag.Int("p", 0, "HTTP listen port (overrides config)")
	httpHost    = flag.String("host", "", "HTTP bind address (overrides config)")
	adminUser   = flag.String("admin-user", "", "Create/update admin user (saves to config)")
	adminPass   = flag.String("admin-pass", "", "Password for admin user (saves to config)")
	noAPI       = flag.Bool("no-api", false, "Disable REST API (ephemeral)")
	noWebUI     = flag.Bool("no-webui", false, "Disable browser UI (ephemeral)")
	logFile     = flag.String("log", "", "Path to log file (optional)")
	logDebug    = flag.String("log-debug", "", "Enable debug logging to debug.log")
)

func main() {
	preprocessLogDebugFlag()
	flag.Parse()

	if *showVersion {
		fmt.Printf("s7link %s\n", Version)
		os.Exit(0)
	}

	headless := *noTUI || *noTUILong

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if *namespaceFl != "" {
		if !config.IsValidNamespace(*namespaceFl) {
			fmt.Fprintf(os.Stderr, "Error: invalid namespace '%s' (use alphanumeric, hyphen, underscore, dot)\n", *namespaceFl)
			os.Exit(1)
		}
		cfg.Namespace = *namespaceFl
		if err := cfg.Save(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Namespace set to '%s' and saved to config\n", *namespaceFl)
	}

	if *httpPort != 0 {
		cfg.Web.Port = *httpPort
	}
	if *httpHost != "" {
		cfg.Web.Host = *httpHost
	}
	if *noAPI {
		cfg.Web.API.Enabled = false
	}
	if *noWebUI {
		cfg.Web.UI.Enabled = false
	}
	if *noAPI && *noWebUI {
		cfg.Web.Enabled = false
	}

	if *adminUser != "" && *adminPass != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(*adminPass), bcrypt.DefaultCost)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error hashing password: %v\n", err)
			os.Exit(1)
		}

		if existing := cfg.FindWebUser(*adminUser); existing != nil {
			existing.PasswordHash = string(hash)
			existing.Role = config.RoleAdmin
			existing.MustChangePassword = false
		} else {
			cfg.AddWebUser(config.WebUser{
				Username:     *adminUser,
				PasswordHash: string(hash),
				Role:         config.RoleAdmin,
			})
		}

		if cfg.Web.UI.SessionSecret == "" {
			secret := make([]byte, 32)
			rand.Read(secret)
			cfg.Web.UI.SessionSecret = base64.StdEncoding.EncodeToString(secret)
		}

		if err := cfg.Save(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Admin user '%s' configured for web UI\n", *adminUser)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}

	run(cfg, headless)
}

// run is the unified startup flow for both TUI and headless modes.
func run(cfg *config.Config, headless bool) {
	tui.InitDebugStore(1000)

	manager := plcman.NewManager(cfg.PollRate)
	manager.LoadFromConfig(cfg)

	mqttMgr := mqtt.NewManager()
	mqttMgr.LoadFromConfig(cfg.MQTT)

	valkeyMgr := valkey.NewManager()
	valkeyMgr.LoadFromConfig(cfg.Valkey, cfg.Namespace)

	kafkaMgr := kafka.NewManager()
	for i := range cfg.Kafka {
		kc := cfg.Kafka[i]
		kafkaMgr.AddCluster(&kafka.Config{
			Name:             kc.Name,
			Enabled:          kc.Enabled,
			Brokers:          kc.Brokers,
			UseTLS:           kc.UseTLS,
			TLSSkipVerify:    kc.TLSSkipVerify,
			SASLMechanism:    kafka.SASLMechanism(kc.SASLMechanism),
			Username:         kc.Username,
			Password:         kc.Password,
			RequiredAcks:     kc.RequiredAcks,
			MaxRetries:       kc.MaxRetries,
			RetryBackoff:     kc.RetryBackoff,
			PublishChanges:   kc.PublishChanges,
			Selector:         kc.Selector,
			AutoCreateTopics: kc.AutoCreateTopics == nil || *kc.AutoCreateTopics,
			EnableWriteback:  kc.EnableWriteback,
			ConsumerGroup:    kc.ConsumerGroup,
			WriteMaxAge:      kc.WriteMaxAge,
		}, cfg.Namespace)
	}

	packProvider := &plcDataProvider{manager: manager}
	packMgr := tagpack.NewManager(cfg, packProvider)
	defer packMgr.Stop()
	packMgr.SetOnPublish(func(pv tagpack.PackValue, packCfg *config.TagPackConfig) {
		data, err := tagpack.MarshalPackValue(pv)
		if err != nil {
			logging.DebugLog("tagpack", "JSON marshal error: %v", err)
			return
		}
		if packCfg.MQTTEnabled {
			mqttMgr.PublishTagPack(packCfg.Name, data)
		}
		if packCfg.KafkaEnabled {
			kafkaMgr.PublishTagPack(packCfg.Name, data)
		}
		if packCfg.ValkeyEnabled {
			ch := namespace.New(cfg.Namespace, "").ValkeyPackChannel(packCfg.Name)
			valkeyMgr.PublishRaw(ch, data)
		}
	})
	packMgr.SetLogFunc(func(format string, args ...interface{}) {
		tui.StoreLog(format, args...)
	})

	// Create rule engine
	tagReader := &plcman.RuleTagReader{Manager: manager}
	tagWriter := &plcman.RuleTagWriter{Manager: manager}
	ruleMgr := rule.NewManager(kafkaMgr, tagReader, tagWriter)
	ruleMgr.LoadFromConfig(cfg.Rules)
	ruleMgr.SetPackManager(packMgr)
	ruleMgr.SetMQTTManager(mqttMgr)
	ruleMgr.SetNamespace(cfg.Namespace)
	ruleMgr.SetLogFunc(func(format string, args ...interface{}) {
		tui.StoreLog(format, args...)
	})

	setupValueChangeHandlers(manager, mqttMgr, valkeyMgr, kafkaMgr, packMgr)
	setupWriteHandlers(cfg, manager, mqttMgr, valkeyMgr, kafkaMgr)

	plcNames := make([]string, len(cfg.PLCs))
	for i, plc := range cfg.PLCs {
		plcNames[i] = plc.Name
	}
	mqttMgr.SetPLCNames(plcNames)

	var fileLogger *logging.FileLogger
	if *logFile != "" {
		var err error
		fileLogger, err = logging.NewFileLogger(*logFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Failed to open log file: %v\n", err)
		} else {
			store := tui.GetDebugStore()
			if store != nil {
				store.SetFileLogger(fileLogger)
			}
			if !headless {
				tui.SetDebugFileLogger(fileLogger)
			}
		}
	}

	var debugLoggerFile *logging.DebugLogger
	if *logDebug != "" {
		var err error
		debugLoggerFile, err = logging.NewDebugLogger("debug.log")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Failed to open debug log: %v\n", err)
		} else {
			filter := *logDebug
			if filter == "all" || filter == "true" || filter == "1" {
				filter = ""
			}
			debugLoggerFile.SetFilter(filter)
			logging.SetGlobalDebugLogger(debugLoggerFile)
			if filter == "" {
				tui.StoreLog("Debug logging enabled (all protocols) - writing to debug.log")
			} else {
				tui.StoreLog("Debug logging enabled (filter: %s) - writing to debug.log", filter)
			}
		}
	}

	valkeyMgr.SetOnConnectCallback(func() {
		forcePublishAllValuesToValkey(manager, valkeyMgr)
	})

	manager.SetOnLog(func(format string, args ...interface{}) {
		tui.StoreLog(format, args...)
	})

	manager.Start()

	var webServer *web.Server
	if cfg.Web.Enabled {
		ws := web.NewServer(&cfg.Web, web.Deps{
			Config:     cfg,
			PLCMan:     manager,
			RuleMgr:    ruleMgr,
			PackMgr:    packMgr,
			SaveConfig: func() error { return cfg.Save(*configPath) },
		})
		if err := ws.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Failed to start web server on port %d: %v\n", cfg.Web.Port, err)
			fmt.Fprintf(os.Stderr, "Continuing without HTTP server.\n")
		} else {
			webServer = ws
			fmt.Printf("Web server at %s\n", webServer.Address())
			if cfg.Web.API.Enabled {
				fmt.Printf("  REST API: %s/api/\n", webServer.Address())
			}
			if cfg.Web.UI.Enabled {
				if len(cfg.Web.UI.Users) == 0 {
					fmt.Printf("  First-time setup: %s/setup\n", webServer.Address())
				} else {
					fmt.Printf("  Browser UI: %s/\n", webServer.Address())
				}
			}
		}
	}

	manager.ConnectEnabled()

	go func() {
		if started := mqttMgr.StartAll(); started > 0 {
			forcePublishAllValuesToMQTT(manager, mqttMgr)
		}
	}()

	go func() {
		if started := valkeyMgr.StartAll(); started > 0 {
			forcePublishAllValuesToValkey(manager, valkeyMgr)
		}
	}()

	go kafkaMgr.ConnectEnabled()

	ruleMgr.Start()

	if headless {
		fmt.Println("Running in headless mode. Press Ctrl+C to stop.")

		go publishHealthLoop(manager, mqttMgr, valkeyMgr, kafkaMgr)

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		fmt.Printf("\nReceived %v, shutting down...\n", sig)

		shutdownDone := make(chan struct{})
		go func() {
			ruleMgr.Stop()
			mqttMgr.StopAll()
			valkeyMgr.StopAll()
			kafkaMgr.StopAll()
			if webServer != nil {
				webServer.Stop()
			}
			manager.Stop()
			manager.DisconnectAll()
			close(shutdownDone)
		}()

		select {
		case <-shutdownDone:
		case <-time.After(2 * time.Second):
		}

		if fileLogger != nil {
			fileLogger.Close()
		}
		if debugLoggerFile != nil {
			debugLoggerFile.Close()
		}

		fmt.Println("Stopped")
	} else {
		// TUI mode: redirect stderr to a file to prevent runtime errors
		// (e.g. data races, panics) from corrupting the terminal display.
		stderrPath := filepath.Join(filepath.Dir(*configPath), "s7link-crash.log")
		if f, err := os.OpenFile(stderrPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); err == nil {
			syscall.Dup2(int(f.Fd()), int(os.Stderr.Fd()))
			defer f.Close()
		}

		app := tui.NewApp(cfg, *configPath, manager, webServer, mqttMgr, valkeyMgr, kafkaMgr, ruleMgr)
		app.SetPackManager(packMgr)

		if fileLogger != nil {
			tui.SetDebugFileLogger(fileLogger)
		}

		if err := app.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if webServer != nil {
			webServer.Stop()
		}

		if fileLogger != nil {
			fileLogger.Close()
		}
		if debugLoggerFile != nil {
			debugLoggerFile.Close()
		}
	}
}

// forcePublishAllValuesToMQTT publishes all current tag values to MQTT brokers.
func forcePublishAllValuesToMQTT(manager *plcman.Manager, mqttMgr *mqtt.Manager) {
	values := manager.GetAllCurrentValues()
	tui.StoreLog("ForcePublishAllValues: publishing %d values to MQTT", len(values))
	for _, v := range values {
		if !v.NoMQTT {
			mqttMgr.Publish(v.PLCName, v.TagName, v.TypeName, v.Value, true)
		}
	}
}

// forcePublishAllValuesToValkey publishes all current tag values to Valkey servers.
func forcePublishAllValuesToValkey(manager *plcman.Manager, valkeyMgr *valkey.Manager) {
	values := manager.GetAllCurrentValues()
	tui.StoreLog("ForcePublishAllValuesToValkey: publishing %d values", len(values))
	for _, v := range values {
		if !v.NoValkey {
			valkeyMgr.Publish(v.PLCName, v.TagName, v.Alias, v.Address, v.TypeName, v.Value, v.Writable)
		}
	}
}

// publishHealthLoop publishes PLC health status to all services every 10 seconds.
func publishHealthLoop(manager *plcman.Manager, mqttMgr *mqtt.Manager, valkeyMgr *valkey.Manager, kafkaMgr *kafka.Manager) {
	time.Sleep(2 * time.Second)

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	publishAllHealth(manager, mqttMgr, valkeyMgr, kafkaMgr)

	for range ticker.C {
		publishAllHealth(manager, mqttMgr, valkeyMgr, kafkaMgr)
	}
}

// publishAllHealth publishes health status for all PLCs to MQTT, Valkey, and Kafka.
func publishAllHealth(manager *plcman.Manager, mqttMgr *mqtt.Manager, valkeyMgr *valkey.Manager, kafkaMgr *kafka.Manager) {
	plcs := manager.ListPLCs()
	tui.StoreLog("Publishing health for %d PLCs", len(plcs))
	for _, plc := range plcs {
		if !plc.Config.IsHealthCheckEnabled() {
			continue
		}

		health := plc.GetHealthStatus()

		mqttMgr.PublishHealth(plc.Config.Name, health.Driver, health.Online, health.Status, health.Error)
		valkeyMgr.PublishHealth(plc.Config.Name, health.Driver, health.Online, health.Status, health.Error)
		kafkaMgr.PublishHealth(plc.Config.Name, health.Driver, health.Online, health.Status, health.Error)
	}
}

// setupValueChangeHandlers wires tag value changes to MQTT, Valkey, Kafka, and TagPacks.
func setupValueChangeHandlers(manager *plcman.Manager, mqttMgr *mqtt.Manager, valkeyMgr *valkey.Manager, kafkaMgr *kafka.Manager, packMgr *tagpack.Manager) {
	manager.SetOnValueChange(func(changes []plcman.ValueChange) {
		mqttRunning := mqttMgr.AnyRunning()
		valkeyRunning := valkeyMgr.AnyRunning()
		kafkaPublishing := kafkaMgr.AnyPublishing()

		tui.DebugLog("OnValueChange: %d changes, MQTT: %v, Valkey: %v, Kafka: %v",
			len(changes), mqttRunning, valkeyRunning, kafkaPublishing)

		changesCopy := make([]plcman.ValueChange, len(changes))
		copy(changesCopy, changes)

		changesByPLC := make(map[string][]string)
		for _, c := range changesCopy {
			changesByPLC[c.PLCName] = append(changesByPLC[c.PLCName], c.TagName)
		}
		for plcName, tags := range changesByPLC {
			packMgr.OnTagChanges(plcName, tags)
		}

		if !mqttRunning && !valkeyRunning && !kafkaPublishing {
			return
		}

		if mqttRunning {
			go func() {
				for _, c := range changesCopy {
					if !c.NoMQTT {
						mqttMgr.Publish(c.PLCName, c.TagName, c.TypeName, c.Value, true)
					}
				}
			}()
		}

		if valkeyRunning {
			go func() {
				for _, c := range changesCopy {
					if !c.NoValkey {
						valkeyMgr.Publish(c.PLCName, c.TagName, c.Alias, c.Address, c.TypeName, c.Value, c.Writable)
					}
				}
			}()
		}

		if kafkaPublishing {
			go func() {
				for _, c := range changesCopy {
					if !c.NoKafka {
						kafkaMgr.Publish(c.PLCName, c.TagName, c.Alias, c.Address, c.TypeName, c.Value, c.Writable, true)
					}
				}
			}()
		}
	})
}

// setupWriteHandlers wires MQTT, Valkey, and Kafka write-back to the PLC manager.
func setupWriteHandlers(cfg *config.Config, manager *plcman.Manager, mqttMgr *mqtt.Manager, valkeyMgr *valkey.Manager, kafkaMgr *kafka.Manager) {
	writeHandler := func(plcName, tagName string, value interface{}) error {
		return manager.WriteTag(plcName, tagName, value)
	}

	writeValidator := func(plcName, tagName string) bool {
		plcCfg := cfg.FindPLC(plcName)
		if plcCfg == nil {
			return false
		}
		for _, tag := range plcCfg.Tags {
			if tag.Name == tagName && tag.Writable {
				return true
			}
		}
		return false
	}

	tagTypeLookup := func(plcName, tagName string) uint16 {
		return manager.GetTagType(plcName, tagName)
	}

	mqttMgr.SetWriteHandler(writeHandler)
	mqttMgr.SetWriteValidator(writeValidator)
	mqttMgr.SetTagTypeLookup(tagTypeLookup)

	valkeyMgr.SetWriteHandler(writeHandler)
	valkeyMgr.SetWriteValidator(writeValidator)
	valkeyMgr.SetTagTypeLookup(tagTypeLookup)

	kafkaMgr.SetWriteHandler(writeHandler)
	kafkaMgr.SetWriteValidator(writeValidator)
	kafkaMgr.SetTagTypeLookup(tagTypeLookup)
}

// plcDataProvider implements tagpack.PLCDataProvider using the PLC manager.
type plcDataProvider struct {
	manager *plcman.Manager
}

func (p *plcDataProvider) GetTagValue(plcName, tagName string) (value interface{}, typeName, alias string, ok bool) {
	vc := p.manager.GetTagValueChange(plcName, tagName)
	if vc == nil {
		return nil, "", "", false
	}
	return vc.Value, vc.TypeName, vc.Alias, true
}

func (p *plcDataProvider) GetPLCMetadata(plcName string) tagpack.PLCMetadata {
	plc := p.manager.GetPLC(plcName)
	if plc == nil {
		return tagpack.PLCMetadata{}
	}

	meta := tagpack.PLCMetadata{
		Address:   plc.Config.Address,
		Family:    string(plc.Config.GetFamily()),
		Connected: plc.GetStatus() == plcman.StatusConnected,
	}

	if err := plc.GetError(); err != nil {
		meta.Error = err.Error()
	}

	return meta
}
