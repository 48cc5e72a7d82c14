package main

import (
	stdcontext "context"
	"fmt"
	"hash/fnv"
	"log"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/prometheus/client_golang/prometheus"

	"corestate/internal/entity"
)

// spriteData is the column value for the demo's "sprite" component: a
// screen position plus a debug label, boxed behind the component
// registry's interface{} column like any other component.
type spriteData struct {
	X, Y  float64
	Label string
}

func hash(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}

// Game drives one entity.Context's scheduler once per ebiten frame and
// debug-draws every "sprite" component's current position.
type Game struct {
	ctx    *entity.Context
	sprite entity.ComponentType
	mask   entity.Mask
	last   time.Time
}

func NewGame() *Game {
	ctx := entity.NewContext(entity.RegisterNone, 0, nil)
	if m := ctx.AttachMetrics("corestate_demo"); m != nil {
		if err := m.Register(prometheus.DefaultRegisterer); err != nil {
			log.Printf("metrics registration: %v", err)
		}
	}
	sprite := ctx.Registry.Add(entity.Descriptor{Name: "sprite", NameHash: hash("sprite")})

	var mask entity.Mask
	mask = mask.Set(sprite)

	e := ctx.Archetypes.CreateEntityFromMask(mask)
	ctx.Archetypes.SetColumnValue(e, sprite, &spriteData{X: 100, Y: 100, Label: "wanderer"})

	ctx.RegisterEngine(&entity.Engine{
		Name:     "drift",
		Required: mask,
		Access:   []entity.ComponentAccess{{Type: sprite, Write: true}},
		Update: func(_ stdcontext.Context, set entity.UpdateSet) error {
			dt, _ := set.Blackboard.Float(entity.BlackboardDeltaTime)
			for _, arr := range set.Arrays {
				for i := range arr.Entities {
					sp := arr.Columns[0][i].(*spriteData)
					sp.X += 20 * dt
				}
			}
			return nil
		},
	})

	return &Game{ctx: ctx, sprite: sprite, mask: mask, last: time.Now()}
}

func (g *Game) Update() error {
	now := time.Now()
	dt := now.Sub(g.last).Seconds()
	g.last = now
	return g.ctx.Tick(stdcontext.Background(), dt)
}

func (g *Game) Draw(screen *ebiten.Image) {
	y := 20
	for _, m := range g.ctx.Archetypes.EntitiesMatching(g.mask, entity.Mask{}) {
		col := m.Columns[g.sprite]
		for i := range m.Entities {
			sp := col[i].(*spriteData)
			ebitenutil.DebugPrintAt(screen, fmt.Sprintf("%s: (%.1f, %.1f)", sp.Label, sp.X, sp.Y), 20, y)
			y += 16
		}
	}
}

func (g *Game) Layout(_, _ int) (int, int) { return 1280, 720 }

func main() {
	ebiten.SetWindowSize(1280, 720)
	ebiten.SetWindowTitle("corestate demo")
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	if err := ebiten.RunGame(NewGame()); err != nil {
		log.Fatal(err)
	}
}
