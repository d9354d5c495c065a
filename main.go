package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/viper"
	bolt "go.etcd.io/bbolt"

	"github.com/serebryakov7/can-diag/common"
	"github.com/serebryakov7/can-diag/internal/agent"
	"github.com/serebryakov7/can-diag/internal/canbus"
	"github.com/serebryakov7/can-diag/internal/canid"
	"github.com/serebryakov7/can-diag/pkg/storage"
	"github.com/serebryakov7/can-diag/pkg/telemetry"
)

const defaultConfigPath = "can_diag_config.json"

// configPath ищет -config в аргументах до flag.Parse: значения по
// умолчанию остальных флагов берутся из самого файла конфигурации.
func configPath(args []string) string {
	for i, arg := range args {
		if (arg == "-config" || arg == "--config") && i+1 < len(args) {
			return args[i+1]
		}
	}
	return defaultConfigPath
}

// loadConfig читает JSON-конфигурацию. Отсутствующий файл — не ошибка:
// работают значения по умолчанию.
func loadConfig(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return v, nil
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("ошибка чтения конфигурации %s: %w", path, err)
	}
	return v, nil
}

func secs(value float64) time.Duration {
	return time.Duration(value * float64(time.Second))
}

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	path := configPath(os.Args[1:])
	v, err := loadConfig(path)
	if err != nil {
		log.Fatalf("%v", err)
	}

	v.SetDefault("broker", common.DefaultBroker)
	v.SetDefault("interface", common.DefaultInterface)
	v.SetDefault("bitrate", common.DefaultBitrate)
	v.SetDefault("prefix", telemetry.DefaultPrefix)
	v.SetDefault("timeout", common.DefaultTimeout.Seconds())
	v.SetDefault("publish_period", common.DefaultPublishPeriod.Seconds())
	v.SetDefault("print_summary_period", common.DefaultSummaryPeriod.Seconds())
	v.SetDefault("log_period", common.DefaultLogPeriod.Seconds())
	v.SetDefault("no_traffic_secs", common.DefaultNoTraffic.Seconds())
	v.SetDefault("no_telemetry_secs", common.DefaultNoTelemetry.Seconds())
	v.SetDefault("quick_wait", common.DefaultQuickWait.Seconds())

	var (
		_             = flag.String("config", path, "Путь к JSON-конфигурации")
		broker        = flag.String("broker", v.GetString("broker"), "Адрес брокера телеметрии")
		prefix        = flag.String("prefix", v.GetString("prefix"), "Префикс путей таблицы телеметрии")
		iface         = flag.String("interface", v.GetString("interface"), "Транспорт шины: slcan или socketcan")
		channel       = flag.String("channel", v.GetString("channel"), "Канал шины: последовательный порт (slcan) или CAN-интерфейс (socketcan)")
		bitrate       = flag.Int("bitrate", v.GetInt("bitrate"), "Скорость CAN в бит/с")
		timeout       = flag.Float64("timeout", v.GetFloat64("timeout"), "Секунды без кадров до пометки устройства устаревшим")
		publishPeriod = flag.Float64("publish-period", v.GetFloat64("publish_period"), "Период публикации в телеметрию, с (0 — отключить)")
		summaryPeriod = flag.Float64("print-summary-period", v.GetFloat64("print_summary_period"), "Период сводки в консоль, с (0 — отключить)")
		logCSV        = flag.String("log-csv", v.GetString("log_csv"), "Путь к CSV-журналу (пусто — отключить)")
		logPeriod     = flag.Float64("log-period", v.GetFloat64("log_period"), "Период строк CSV-журнала, с (0 — отключить)")
		noTraffic     = flag.Float64("no-traffic-secs", v.GetFloat64("no_traffic_secs"), "Период предупреждений об отсутствии трафика, с (0 — отключить)")
		noTelemetry   = flag.Float64("no-telemetry-secs", v.GetFloat64("no_telemetry_secs"), "Период предупреждений об отсутствии связи с телеметрией, с (0 — отключить)")
		verbose       = flag.Bool("verbose", false, "Печатать каждый принятый кадр")
		printPublish  = flag.Bool("print-publish", false, "Печатать появление устройства после пропажи")
		quickCheck    = flag.Bool("quick-check", false, "Подождать, напечатать одну сводку и выйти")
		quickWait     = flag.Float64("quick-wait", v.GetFloat64("quick_wait"), "Секунды ожидания перед сводкой быстрой проверки")
		legacyFlag    = flag.Bool("legacy", v.GetBool("legacy_mode"), "Устаревший режим: отслеживать только номера устройств")
		deviceIDsFlag = flag.String("device-ids", "", "Номера устройств через запятую (устаревший режим)")
		registryPath  = flag.String("registry", v.GetString("registry"), "Путь к bbolt-реестру обнаруженных устройств (пусто — отключить)")
		registryClear = flag.Bool("registry-clear", false, "Сбросить реестр обнаруженных устройств при старте")
	)
	flag.Parse()

	// Разрешение конфигурации: некорректные записи устройств и групп
	// отбрасываются поштучно, запуск они не прерывают.
	devices := common.CoerceDevices(v.Get("devices"))
	groups := common.CoerceGroups(v.Get("groups"))
	labels := common.CoerceLabels(v.Get("labels"))

	var deviceIDs []uint8
	if *deviceIDsFlag != "" {
		deviceIDs, err = common.ParseIDs(*deviceIDsFlag)
		if err != nil {
			log.Fatalf("Ошибка разбора -device-ids: %v", err)
		}
	} else if raw, ok := v.Get("device_ids").([]any); ok {
		for _, item := range raw {
			if n, ok := item.(float64); ok && n >= 0 && n <= 63 {
				deviceIDs = append(deviceIDs, uint8(n))
			}
		}
	}

	legacyMode := *legacyFlag || (len(devices) == 0 && len(deviceIDs) > 0)
	if legacyMode {
		// В устаревшем режиме описания синтезируются из номеров:
		// ключи без производителя и типа, подписи из карты labels.
		if len(deviceIDs) == 0 {
			for _, spec := range devices {
				deviceIDs = append(deviceIDs, spec.Key.DeviceID)
			}
		}
		devices = devices[:0]
		defaults := common.DefaultLegacyLabels(deviceIDs)
		for _, id := range deviceIDs {
			label := labels[id]
			if label == "" {
				label = defaults[id]
			}
			devices = append(devices, common.DeviceSpec{Key: canid.LegacyKey(id), Label: label})
		}
	} else if len(devices) == 0 {
		devices = common.DefaultDevices()
	}

	cfg := &common.Config{
		Broker:        *broker,
		Interface:     *iface,
		Channel:       *channel,
		Bitrate:       *bitrate,
		Timeout:       secs(*timeout),
		PublishPeriod: secs(*publishPeriod),
		SummaryPeriod: secs(*summaryPeriod),
		LogCSV:        *logCSV,
		LogPeriod:     secs(*logPeriod),
		NoTraffic:     secs(*noTraffic),
		NoTelemetry:   secs(*noTelemetry),
		Verbose:       *verbose,
		PrintPublish:  *printPublish,
		QuickCheck:    *quickCheck,
		QuickWait:     secs(*quickWait),
		RegistryPath:  *registryPath,
		RegistryClear: *registryClear,
		LegacyMode:    legacyMode,
		Devices:       devices,
		DeviceIDs:     deviceIDs,
		Groups:        groups,
	}

	if err := run(cfg, *prefix); err != nil {
		log.Fatalf("%v", err)
	}
}

// run держит все ресурсы процесса: транспорт шины, клиента телеметрии,
// реестр устройств. Освобождение гарантируется defer'ами на любом пути
// выхода — нормальном, по сигналу или при сбое транспорта.
func run(cfg *common.Config, prefix string) error {
	// Возможность телеметрии разрешается один раз при старте; дальше
	// состояние связи — предмет сторожевого таймера, а не повторных
	// попыток на каждом тике.
	sink, err := telemetry.Dial(telemetry.Config{Broker: cfg.Broker, Prefix: prefix})
	if err != nil {
		return fmt.Errorf("телеметрия недоступна: %w", err)
	}
	defer sink.Close()

	bus, err := canbus.Open(cfg.Interface, cfg.Channel, cfg.Bitrate)
	if err != nil {
		return fmt.Errorf("ошибка инициализации шины: %w", err)
	}
	defer bus.Close()

	var registry *bolt.DB
	if cfg.RegistryPath != "" {
		registry, err = storage.OpenDB(cfg.RegistryPath)
		if err != nil {
			// Реестр вспомогательный: без него агент работает, только
			// сообщения о новых устройствах будут повторяться.
			log.Printf("Реестр устройств недоступен (%v), продолжаем без него", err)
		} else {
			defer registry.Close()
			if cfg.RegistryClear {
				if err := storage.ClearAll(registry); err != nil {
					log.Printf("Ошибка сброса реестра устройств: %v", err)
				} else {
					log.Println("Реестр обнаруженных устройств сброшен")
				}
			}
		}
	}

	a := agent.New(cfg, bus, sink, registry, os.Stdout)
	defer a.Close()

	log.Printf("Телеметрия: %s", sink.ConnectionInfo())
	log.Printf("CAN: interface=%s channel=%s bitrate=%d", cfg.Interface, cfg.Channel, cfg.Bitrate)
	log.Printf("Отслеживается устройств: %d", len(cfg.Devices))
	if groups := a.Aggregator().Groups(); len(groups) > 0 {
		parts := make([]string, 0, len(groups))
		for _, g := range groups {
			parts = append(parts, fmt.Sprintf("%s(%d)", g.Name, len(g.Keys)))
		}
		log.Printf("Группы: %s", strings.Join(parts, ", "))
	}
	log.Println("Агент запущен. Нажмите Ctrl+C для выхода.")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		return err
	}
	log.Println("Завершение работы...")
	return nil
}
