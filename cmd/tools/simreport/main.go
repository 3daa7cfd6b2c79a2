// Command simreport runs a headless simulation and renders an HTML report
// of the run with go-echarts. Useful for eyeballing mode tuning changes
// without standing up the HTTP server.
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/driveline-data/driveline/internal/analysis"
	"github.com/driveline-data/driveline/internal/config"
	"github.com/driveline-data/driveline/internal/modes"
	"github.com/driveline-data/driveline/internal/sim"
	"github.com/driveline-data/driveline/internal/telemetry"
)

func main() {
	mode := flag.String("mode", modes.DefaultModeID, "driving mode")
	seed := flag.Int64("seed", 1, "random seed")
	ticks := flag.Int("n", 1500, "number of simulation ticks")
	tuningFile := flag.String("config", "", "tuning config JSON (optional)")
	profilesFile := flag.String("profiles", "", "mode profile overrides JSON (optional)")
	output := flag.String("o", "simreport.html", "output HTML path")
	flag.Parse()

	cfg := config.EmptyTuningConfig()
	if loaded, err := config.LoadTuningConfig(config.DefaultConfigPath); err == nil {
		cfg = loaded
	}
	if *tuningFile != "" {
		var err error
		cfg, err = config.LoadTuningConfig(*tuningFile)
		if err != nil {
			log.Fatalf("failed to load tuning config: %v", err)
		}
	}
	if *profilesFile != "" {
		if err := modes.LoadOverrides(*profilesFile); err != nil {
			log.Fatalf("failed to load mode profiles: %v", err)
		}
	}

	profile, err := modes.Lookup(*mode)
	if err != nil {
		log.Fatalf("unknown mode %q (valid: %v)", *mode, modes.IDs())
	}

	run := simulate(profile, *seed, *ticks, cfg)

	f, err := os.Create(*output)
	if err != nil {
		log.Fatalf("failed to create output file: %v", err)
	}
	defer f.Close()

	page := components.NewPage()
	page.AddCharts(
		speedChart(profile, run),
		batteryChart(run),
		thermalChart(run),
	)
	if err := page.Render(f); err != nil {
		log.Fatalf("failed to render report: %v", err)
	}

	log.Printf("mode=%s ticks=%d efficiency=%.1f anomalies=%d", profile.ID, *ticks, run.efficiency, len(run.anomalies))
	for _, rec := range run.recommendations {
		log.Printf("[%s] %s: %s", rec.Priority, rec.Component, rec.Message)
	}
	log.Printf("✓ Created: %s", *output)
}

// runData holds the sampled series and the final analysis pass.
type runData struct {
	xs              []int
	speed           []opts.LineData
	target          []opts.LineData
	accel           []opts.LineData
	battery         []opts.LineData
	consumption     []opts.LineData
	motorTemp       []opts.LineData
	inverterTemp    []opts.LineData
	efficiency      float64
	anomalies       []analysis.AnomalyRecord
	recommendations []analysis.Recommendation
}

// simulate drives the tick loop directly, bypassing the session clock, so
// a multi-hour run renders in milliseconds. The analysis cadence follows
// the configured tick/analysis interval ratio.
func simulate(profile modes.Profile, seed int64, ticks int, cfg *config.TuningConfig) *runData {
	s := sim.New(profile, rand.New(rand.NewSource(seed)), cfg)
	emitter := telemetry.NewEmitter(telemetry.DefaultSynthParams(), cfg)
	pipeline := analysis.NewPipeline(cfg)
	s.Start()

	ticksPerAnalysis := int(cfg.GetAnalysisInterval() / cfg.GetTickInterval())
	if ticksPerAnalysis < 1 {
		ticksPerAnalysis = 1
	}

	now := time.Now()
	run := &runData{}
	var last analysis.AnalysisResult
	for i := 0; i < ticks; i++ {
		now = now.Add(cfg.GetTickInterval())
		st := s.Tick()
		rec := emitter.Emit(st, profile, now)
		pipeline.Ingest(rec)

		if (i+1)%ticksPerAnalysis == 0 {
			last = pipeline.Run(profile, now)
			run.anomalies = append(run.anomalies, last.Anomalies...)
		}

		run.xs = append(run.xs, int(st.Tick))
		run.speed = append(run.speed, opts.LineData{Value: rec.Speed})
		run.target = append(run.target, opts.LineData{Value: st.TargetSpeed})
		run.accel = append(run.accel, opts.LineData{Value: rec.Acceleration})
		run.battery = append(run.battery, opts.LineData{Value: rec.Battery.Level})
		run.consumption = append(run.consumption, opts.LineData{Value: rec.Battery.Consumption})
		run.motorTemp = append(run.motorTemp, opts.LineData{Value: rec.Motor.Temperature})
		run.inverterTemp = append(run.inverterTemp, opts.LineData{Value: rec.Inverter.Temperature})
	}

	run.efficiency = last.EfficiencyScore
	run.recommendations = last.Recommendations
	return run
}

func newLine(title, subtitle string) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "driveline simreport", Theme: "dark", Width: "1200px", Height: "400px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "tick"}),
	)
	return line
}

func speedChart(profile modes.Profile, run *runData) *charts.Line {
	line := newLine("Speed", fmt.Sprintf("mode=%s band=[%.0f, %.0f] km/h", profile.ID, profile.TargetSpeed.Min, profile.TargetSpeed.Max))
	line.SetXAxis(run.xs).
		AddSeries("speed (km/h)", run.speed).
		AddSeries("target (km/h)", run.target).
		AddSeries("acceleration (m/s²)", run.accel)
	return line
}

func batteryChart(run *runData) *charts.Line {
	line := newLine("Battery", "state of charge and consumption")
	line.SetXAxis(run.xs).
		AddSeries("charge (%)", run.battery).
		AddSeries("consumption (kWh/100km)", run.consumption)
	return line
}

func thermalChart(run *runData) *charts.Line {
	line := newLine("Thermals", "motor and inverter temperature")
	line.SetXAxis(run.xs).
		AddSeries("motor (°C)", run.motorTemp).
		AddSeries("inverter (°C)", run.inverterTemp)
	return line
}
