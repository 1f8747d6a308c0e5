package steady

import (
	"errors"
	"fmt"
	"os"

	log "github.com/go-pkgz/lgr"
	"gopkg.in/yaml.v3"
)

// Default selection values
const (
	DefaultSimulationStep = "0.025"
	DefaultMode           = "作战"
	DefaultEnvironment    = "地面"
)

// Defaults returns compiled-in default snapshot. Each call returns a fresh copy.
// Output values are fixtures, not results of any computation.
func Defaults() Snapshot {
	return Snapshot{
		DataIN: ParameterSet{
			{Name: "仿真步长", Data: []Value{Num(0.025)}},
			{Name: "高度", Data: []Value{Num(0)}},
			{Name: "马赫数", Data: []Value{Num(0)}},
			{Name: "温度修正", Data: []Value{Num(0)}},
			{Name: "进气道总压恢复系数", Data: []Value{Num(-1)}},
			{Name: "功率提取", Data: []Value{Num(0)}},
			{Name: "压气机中间级引气", Data: []Value{Num(0)}},
			{Name: "油门杆角度", Data: []Value{Num(66)}},
			{Name: "作战", Data: []Value{Num(0)}},
			{Name: "训练", Data: []Value{Num(1)}},
			{Name: "地面", Data: []Value{Num(0)}},
			{Name: "空中", Data: []Value{Num(1)}},
		},
		DataOut: ParameterSet{
			// first table, simulation step + 15 values
			{Name: "仿真步长", Data: []Value{Str("0.025")}},
			{Name: "低压轴换算转速", Data: []Value{Num(8542.30)}},
			{Name: "高压轴换算转速", Data: []Value{Num(12456.70)}},
			{Name: "发动机进口换算流量/kg/s", Data: []Value{Num(245.80)}},
			{Name: "发动机净推力/kN", Data: []Value{Num(15420.50)}},
			{Name: "发动机总推力/kN", Data: []Value{Num(16890.20)}},
			{Name: "发动机进口冲压阻力/kN", Data: []Value{Num(245.60)}},
			{Name: "发动机总耗油量/kg/h", Data: []Value{Num(3456.80)}},
			{Name: "主燃烧室耗油量/kg/h", Data: []Value{Num(2890.40)}},
			{Name: "加力燃烧室耗油量/kg/h", Data: []Value{Num(566.40)}},
			{Name: "喷管喉道面积/m²", Data: []Value{Num(0.245)}},
			{Name: "喷管出口面积/m²", Data: []Value{Num(0.312)}},
			{Name: "风扇出口温度/K", Data: []Value{Num(658.40)}},
			{Name: "高压压气机出口温度/K", Data: []Value{Num(1245.60)}},
			{Name: "高压涡轮进口温度/K", Data: []Value{Num(1156.80)}},
			{Name: "低压涡轮进口温度/K", Data: []Value{Num(945.20)}},

			// second table, 16 values
			{Name: "低压涡轮出口温度/K", Data: []Value{Num(756.30)}},
			{Name: "风扇出口总压/kPa", Data: []Value{Num(245.80)}},
			{Name: "高压压气机出口总压/kPa", Data: []Value{Num(1280.50)}},
			{Name: "高压涡轮进口总压/kPa", Data: []Value{Num(1120.30)}},
			{Name: "低压涡轮进口总压/kPa", Data: []Value{Num(890.70)}},
			{Name: "低压涡轮出口总压/kPa", Data: []Value{Num(156.40)}},
			{Name: "喷管出口总压/kPa", Data: []Value{Num(101.30)}},
			{Name: "喷管出口速度/m/s", Data: []Value{Num(1245.60)}},
			{Name: "喷管出口马赫数", Data: []Value{Num(2.15)}},
			{Name: "推重比", Data: []Value{Num(8.45)}},
			{Name: "单位推力/N·s/kg", Data: []Value{Num(1456.80)}},
			{Name: "推进效率", Data: []Value{Num(0.85)}},
			{Name: "热效率", Data: []Value{Num(0.42)}},
			{Name: "总效率", Data: []Value{Num(0.36)}},
			{Name: "燃油消耗率/kg/(kN·h)", Data: []Value{Num(0.78)}},
			{Name: "比冲/s", Data: []Value{Num(1890.50)}},
		},
		Selection: Selection{
			SimulationStep: DefaultSimulationStep,
			Mode:           DefaultMode,
			Environment:    DefaultEnvironment,
			IsCalculating:  false,
			ShowResults:    true,
		},
		Version: SchemaVersion,
	}
}

// LoadPreset reads yaml preset file and overlays it onto compiled-in defaults.
// Fields missing in the preset keep the compiled-in values. Missing file is not an error.
func LoadPreset(fname string) (Snapshot, error) {
	res := Defaults()
	if fname == "" {
		return res, nil
	}

	data, err := os.ReadFile(fname) //nolint:gosec // preset location comes from the operator
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Printf("[DEBUG] preset %s not found, using compiled-in defaults", fname)
			return res, nil
		}
		return Defaults(), fmt.Errorf("can't read preset %s: %w", fname, err)
	}

	if err := yaml.Unmarshal(data, &res); err != nil {
		return Defaults(), fmt.Errorf("can't parse preset %s: %w", fname, err)
	}
	if err := res.Validate(); err != nil {
		return Defaults(), fmt.Errorf("invalid preset %s: %w", fname, err)
	}
	res.Version = SchemaVersion
	log.Printf("[INFO] defaults loaded from preset %s, %d inputs, %d outputs", fname, len(res.DataIN), len(res.DataOut))
	return res, nil
}
