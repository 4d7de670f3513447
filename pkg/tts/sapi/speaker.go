package sapi

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-ole/go-ole"
	"github.com/go-ole/go-ole/oleutil"

	"printcast/pkg/tts"
)

// Speaker speaks through the Windows SAPI5 default audio output.
type Speaker struct {
	mu      sync.Mutex
	voiceID string
}

// NewSpeaker creates a SAPI speaker. An empty voiceID keeps the system default.
func NewSpeaker(voiceID string) *Speaker {
	return &Speaker{voiceID: voiceID}
}

// Speak reads the text aloud and returns once SAPI has finished.
func (s *Speaker) Speak(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	release, err := initCOM()
	if err != nil {
		return err
	}
	defer release()

	voice, err := newVoice()
	if err != nil {
		return err
	}
	defer voice.Release()

	if s.voiceID != "" {
		setVoiceByID(voice, s.voiceID)
	}

	// Flags 0: synchronous.
	if _, err := oleutil.CallMethod(voice, "Speak", text, 0); err != nil {
		tts.Log("SAPI", text, 0, err)
		return fmt.Errorf("speak failed: %w", err)
	}
	tts.Log("SAPI", text, 200, nil)
	return nil
}

// Voices lists installed SAPI voices.
func (s *Speaker) Voices(ctx context.Context) ([]tts.Voice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	release, err := initCOM()
	if err != nil {
		return nil, err
	}
	defer release()

	voice, err := newVoice()
	if err != nil {
		return nil, err
	}
	defer voice.Release()

	tokensVar, err := oleutil.CallMethod(voice, "GetVoices")
	if err != nil {
		tokensVar, err = oleutil.GetProperty(voice, "Voices")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get voices collection: %w", err)
	}
	tokens := tokensVar.ToIDispatch()
	if tokens == nil {
		return nil, fmt.Errorf("voices collection is nil")
	}
	defer tokens.Release()

	countVar, err := oleutil.GetProperty(tokens, "Count")
	if err != nil {
		return nil, fmt.Errorf("GetVoices Count failed: %w", err)
	}

	var voices []tts.Voice
	_ = oleutil.ForEach(tokens, func(v *ole.VARIANT) error {
		if item, ok := tokenVoice(v.ToIDispatch()); ok {
			voices = append(voices, item)
		}
		return nil
	})

	if len(voices) == 0 {
		voices = enumByIndex(tokens, variantInt(countVar))
	}
	return voices, nil
}

func initCOM() (func(), error) {
	if err := ole.CoInitialize(0); err != nil {
		// S_FALSE: already initialized on this thread.
		if oleErr, ok := err.(*ole.OleError); ok && oleErr.Code() == 1 {
			return func() {}, nil
		}
		return nil, fmt.Errorf("CoInitialize failed: %w", err)
	}
	return ole.CoUninitialize, nil
}

func newVoice() (*ole.IDispatch, error) {
	unknown, err := oleutil.CreateObject("SAPI.SpVoice")
	if err != nil {
		return nil, fmt.Errorf("failed to create SAPI.SpVoice: %w", err)
	}
	voice, err := unknown.QueryInterface(ole.IID_IDispatch)
	unknown.Release()
	if err != nil {
		return nil, fmt.Errorf("QueryInterface SpVoice failed: %w", err)
	}
	return voice, nil
}

func variantInt(v *ole.VARIANT) int {
	switch it := v.Value().(type) {
	case int32:
		return int(it)
	case int64:
		return int(it)
	case int:
		return it
	case uint32:
		return int(it)
	default:
		return int(v.Val)
	}
}

// tokenVoice releases item.
func tokenVoice(item *ole.IDispatch) (tts.Voice, bool) {
	if item == nil {
		return tts.Voice{}, false
	}
	defer item.Release()

	idVar, idErr := oleutil.CallMethod(item, "GetId")
	descVar, descErr := oleutil.CallMethod(item, "GetDescription", int32(0))
	if idErr != nil || descErr != nil || idVar == nil || descVar == nil {
		return tts.Voice{}, false
	}
	return tts.Voice{ID: idVar.ToString(), Name: descVar.ToString()}, true
}

func enumByIndex(tokens *ole.IDispatch, count int) []tts.Voice {
	var voices []tts.Voice
	for i := 0; i < count; i++ {
		itemVar, err := oleutil.GetProperty(tokens, "Item", i)
		if err != nil {
			itemVar, err = oleutil.CallMethod(tokens, "Item", i)
		}
		if err != nil {
			continue
		}
		if v, ok := tokenVoice(itemVar.ToIDispatch()); ok {
			voices = append(voices, v)
		}
	}
	return voices
}

func setVoiceByID(voice *ole.IDispatch, voiceID string) {
	tokensVar, err := oleutil.CallMethod(voice, "GetVoices", "", "")
	if err != nil {
		return
	}
	tokens := tokensVar.ToIDispatch()
	if tokens == nil {
		return
	}
	defer tokens.Release()

	_ = oleutil.ForEach(tokens, func(v *ole.VARIANT) error {
		item := v.ToIDispatch()
		if item == nil {
			return nil
		}
		defer item.Release()
		idVar, _ := oleutil.CallMethod(item, "GetId")
		if idVar != nil && idVar.ToString() == voiceID {
			_, _ = oleutil.PutPropertyRef(voice, "Voice", item)
		}
		return nil
	})
}
