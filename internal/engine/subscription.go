package engine

const eventBufferSize = 16

// Subscription provides event channels for a subscriber.
type Subscription struct {
	PassageStarted     <-chan PassageStarted
	PassageCompleted   <-chan PassageCompleted
	CurrentSongChanged <-chan CurrentSongChanged
	Progress           <-chan PlaybackProgress
	QueueChanged       <-chan QueueChanged
	Error              <-chan ErrorEvent
	Done               <-chan struct{}

	// Internal write channels
	startedCh   chan PassageStarted
	completedCh chan PassageCompleted
	songCh      chan CurrentSongChanged
	progressCh  chan PlaybackProgress
	queueCh     chan QueueChanged
	errorCh     chan ErrorEvent
	doneCh      chan struct{}
}

// newSubscription creates a new subscription with buffered channels.
func newSubscription() *Subscription {
	s := &Subscription{
		startedCh:   make(chan PassageStarted, eventBufferSize),
		completedCh: make(chan PassageCompleted, eventBufferSize),
		songCh:      make(chan CurrentSongChanged, eventBufferSize),
		progressCh:  make(chan PlaybackProgress, eventBufferSize),
		queueCh:     make(chan QueueChanged, eventBufferSize),
		errorCh:     make(chan ErrorEvent, eventBufferSize),
		doneCh:      make(chan struct{}),
	}
	s.PassageStarted = s.startedCh
	s.PassageCompleted = s.completedCh
	s.CurrentSongChanged = s.songCh
	s.Progress = s.progressCh
	s.QueueChanged = s.queueCh
	s.Error = s.errorCh
	s.Done = s.doneCh
	return s
}

// close signals subscribers to stop by closing doneCh.
func (s *Subscription) close() {
	close(s.doneCh)
}

// send delivers e on ch, dropping it if the subscriber is behind.
func send[T any](ch chan T, e T) {
	select {
	case ch <- e:
	default:
	}
}

func (s *Subscription) sendStarted(e PassageStarted)     { send(s.startedCh, e) }
func (s *Subscription) sendCompleted(e PassageCompleted) { send(s.completedCh, e) }
func (s *Subscription) sendSong(e CurrentSongChanged)    { send(s.songCh, e) }
func (s *Subscription) sendProgress(e PlaybackProgress)  { send(s.progressCh, e) }
func (s *Subscription) sendQueue(e QueueChanged)         { send(s.queueCh, e) }
func (s *Subscription) sendError(e ErrorEvent)           { send(s.errorCh, e) }
