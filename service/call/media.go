// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package call

import (
	"context"
	"fmt"

	"github.com/mattermost/callcore/service/recovery"
	"github.com/mattermost/callcore/service/transport"

	"github.com/mattermost/mattermost/server/public/shared/mlog"
)

// activeSession returns the session of callID if it's not over yet. On
// success cs.mut is held and must be released by the caller.
func (m *Manager) activeSession(callID string) (*callSession, error) {
	cs := m.registry.get(callID)
	if cs == nil {
		return nil, ErrCallNotFound
	}
	cs.mut.Lock()
	if cs.State.IsTerminal() {
		cs.mut.Unlock()
		return nil, ErrCallNotFound
	}
	return cs, nil
}

func setTracksEnabled(tracks []transport.Track, enabled bool) {
	for _, t := range tracks {
		t.SetEnabled(enabled)
	}
}

// ToggleMicrophone mutes or unmutes the local audio and returns whether it's
// now enabled.
func (m *Manager) ToggleMicrophone(_ context.Context, callID string) (bool, error) {
	cs, err := m.activeSession(callID)
	if err != nil {
		return false, err
	}
	defer cs.mut.Unlock()

	var enabled bool
	cs.updateLocal(func(p *Participant) {
		p.MediaState.MicMuted = !p.MediaState.MicMuted
		enabled = !p.MediaState.MicMuted
	})
	if cs.localStream != nil {
		setTracksEnabled(cs.localStream.AudioTracks(), enabled)
	}

	return enabled, nil
}

// ToggleCamera turns the local video on or off and returns whether it's now
// enabled.
func (m *Manager) ToggleCamera(_ context.Context, callID string) (bool, error) {
	cs, err := m.activeSession(callID)
	if err != nil {
		return false, err
	}
	defer cs.mut.Unlock()

	var enabled bool
	cs.updateLocal(func(p *Participant) {
		p.MediaState.CameraOff = !p.MediaState.CameraOff
		enabled = !p.MediaState.CameraOff
	})
	if cs.localStream != nil {
		setTracksEnabled(cs.localStream.VideoTracks(), enabled)
	}

	return enabled, nil
}

// ToggleSpeaker flips the local speaker flag and returns its new value.
func (m *Manager) ToggleSpeaker(_ context.Context, callID string) (bool, error) {
	cs, err := m.activeSession(callID)
	if err != nil {
		return false, err
	}
	defer cs.mut.Unlock()

	var enabled bool
	cs.updateLocal(func(p *Participant) {
		p.MediaState.SpeakerEnabled = !p.MediaState.SpeakerEnabled
		enabled = p.MediaState.SpeakerEnabled
	})

	return enabled, nil
}

// StartScreenShare captures the display and sends it to every participant.
// It's a no-op if the screen is already being shared.
func (m *Manager) StartScreenShare(ctx context.Context, callID string) error {
	if !m.config.Get().EnableScreenShare {
		err := fmt.Errorf("%w: screen sharing", ErrFeatureDisabled)
		m.report(recovery.NewError(recovery.FeatureDisabled, "failed to start screen share", err), callID, "start_screen_share")
		return fmt.Errorf("failed to start screen share: %w", err)
	}

	cs, err := m.activeSession(callID)
	if err != nil {
		return err
	}

	if cs.screenStream != nil {
		cs.mut.Unlock()
		return nil
	}

	stream, err := m.transport.GetDisplayMedia(ctx)
	if err != nil {
		cs.mut.Unlock()
		m.report(recovery.NewError(recovery.ScreenShareError, "failed to start screen share", err), callID, "start_screen_share")
		return fmt.Errorf("%w: %w", ErrScreenShareFailed, err)
	}

	var added []*peer
	for _, p := range cs.peers {
		if err := p.pc.AddStream(stream); err != nil {
			for _, a := range added {
				if rmErr := a.pc.RemoveStream(stream); rmErr != nil {
					cs.log.Warn("failed to remove screen stream", mlog.String("callID", callID), mlog.Err(rmErr))
				}
			}
			stream.Stop()
			cs.mut.Unlock()
			m.report(recovery.NewError(recovery.ScreenShareError, "failed to add screen stream", err), callID, "start_screen_share")
			return fmt.Errorf("%w: %w", ErrScreenShareFailed, err)
		}
		added = append(added, p)
	}

	cs.screenStream = stream
	cs.updateLocal(func(p *Participant) {
		p.MediaState.ScreenSharing = true
	})
	remotes := cs.negotiated()
	cs.mut.Unlock()

	m.log.Info("screen share started", mlog.String("callID", callID))
	m.renegotiate(ctx, cs, remotes)

	return nil
}

// StopScreenShare stops sharing the display. It's a no-op if the screen
// isn't being shared.
func (m *Manager) StopScreenShare(ctx context.Context, callID string) error {
	cs, err := m.activeSession(callID)
	if err != nil {
		return err
	}

	stream := cs.screenStream
	if stream == nil {
		cs.mut.Unlock()
		return nil
	}

	for id, p := range cs.peers {
		if err := p.pc.RemoveStream(stream); err != nil {
			cs.log.Warn("failed to remove screen stream", mlog.String("callID", callID), mlog.String("remoteUserID", id), mlog.Err(err))
		}
	}
	stream.Stop()
	cs.screenStream = nil
	cs.updateLocal(func(p *Participant) {
		p.MediaState.ScreenSharing = false
	})
	remotes := cs.negotiated()
	cs.mut.Unlock()

	m.log.Info("screen share stopped", mlog.String("callID", callID))
	m.renegotiate(ctx, cs, remotes)

	return nil
}

// renegotiate sends a new offer to the given participants so that they pick
// up track changes.
func (m *Manager) renegotiate(ctx context.Context, cs *callSession, remotes []string) {
	for _, remoteUserID := range remotes {
		if err := m.sendOffer(ctx, cs, remoteUserID, false); err != nil {
			m.log.Warn("failed to renegotiate", mlog.String("callID", cs.CallID), mlog.String("remoteUserID", remoteUserID), mlog.Err(err))
		}
	}
}
