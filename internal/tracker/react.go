// Package tracker drives the subscription state machine
// (Unsubscribed -> Subscribed -> Unsubscribed) and reacts to host lifecycle
// events. The reaction to an event is the pure function React; Handle reads
// the current state, runs React and executes the effects it returns.
package tracker

import (
	"sort"

	"confwatch/internal/conference"
	"confwatch/internal/host"
)

// WelcomeMessage is shown once after the first install.
const WelcomeMessage = "confwatch installed! Begin subscribing to your preferred conferences now."

// State is what React needs to decide: the stored subscriptions, the ids
// that currently own host timers and whether first-run setup happened.
type State struct {
	Subscriptions []conference.Subscription
	TimerIDs      []string
	Installed     bool
}

type EffectKind string

const (
	EffectPreload       EffectKind = "preload"
	EffectSchedule      EffectKind = "schedule"
	EffectCancel        EffectKind = "cancel"
	EffectFire          EffectKind = "fire"
	EffectNotify        EffectKind = "notify"
	EffectMarkInstalled EffectKind = "mark_installed"
)

type Effect struct {
	Kind    EffectKind
	Sub     conference.Subscription // EffectSchedule
	ID      string                  // EffectCancel
	Name    string                  // EffectFire
	Title   string                  // EffectNotify
	Message string                  // EffectNotify
}

func Preload() Effect                             { return Effect{Kind: EffectPreload} }
func Schedule(sub conference.Subscription) Effect { return Effect{Kind: EffectSchedule, Sub: sub} }
func Cancel(id string) Effect                     { return Effect{Kind: EffectCancel, ID: id} }
func Fire(name string) Effect                     { return Effect{Kind: EffectFire, Name: name} }
func Notify(title, message string) Effect {
	return Effect{Kind: EffectNotify, Title: title, Message: message}
}
func MarkInstalled() Effect { return Effect{Kind: EffectMarkInstalled} }

// React maps a host event and the current state to the next state and the
// side effects to run. It does no I/O.
func React(ev host.Event, st State) (State, []Effect) {
	switch ev.Kind {
	case host.EventStartup:
		// Host timers may not have survived the restart; re-derive them.
		effs := []Effect{Preload()}
		for _, sub := range st.Subscriptions {
			effs = append(effs, Schedule(sub))
		}
		return st, effs

	case host.EventInstalled:
		if st.Installed {
			return st, []Effect{Preload()}
		}
		st.Installed = true
		return st, []Effect{Preload(), MarkInstalled(), Notify("", WelcomeMessage)}

	case host.EventAlarm:
		if ev.Name == "" {
			return st, nil
		}
		return st, []Effect{Fire(ev.Name)}

	case host.EventReconcile:
		var effs []Effect
		subscribed := make(map[string]bool, len(st.Subscriptions))
		for _, sub := range st.Subscriptions {
			subscribed[sub.ID] = true
			effs = append(effs, Schedule(sub))
		}
		orphans := make([]string, 0)
		for _, id := range st.TimerIDs {
			if !subscribed[id] {
				orphans = append(orphans, id)
			}
		}
		sort.Strings(orphans)
		for _, id := range orphans {
			effs = append(effs, Cancel(id))
		}
		st.TimerIDs = st.TimerIDs[:0:0]
		for _, sub := range st.Subscriptions {
			st.TimerIDs = append(st.TimerIDs, sub.ID)
		}
		return st, effs
	}
	return st, nil
}
