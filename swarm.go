// Package swarm drives a swarm of simulated clients against a single server
// for load and stress testing.
//
// swarm provides:
//   - Bots with their own session, identity and cached position
//   - A packet listener per bot answering liveness checks, teleports and deaths
//   - A registry of live bots with prefix lookup
//   - Coarse gravity for all bots on one shared scheduler
//   - A loader spinning up bots one after another, optionally through proxies
//
// # Quick Start
//
// Build a manager with a transport and create bots:
//
//	mngr, err := swarm.NewBuilder().
//	    Address("127.0.0.1:19132").
//	    Transport(bedrock.NewTransport()).
//	    Nicknames(nick.NewGenerator("Bot", nil)).
//	    Gravity(true).
//	    Init()
//	if err != nil {
//	    return err
//	}
//	defer mngr.Shutdown()
//
//	bot, err := mngr.Create("Steve", 0)
//
// Or let a loader create many of them:
//
//	loader := swarm.NewLoader(mngr, swarm.LoaderConfig{
//	    Count:    100,
//	    DelayMin: 500 * time.Millisecond,
//	    DelayMax: 2 * time.Second,
//	})
//	loader.Spin(ctx)
//	loader.Wait()
//
// # Tasks
//
// Work that has to happen later for a bot is scheduled as a task:
//
//	swarm.Schedule(bot, &WaveTask{Bot: bot}, time.Second)
//	swarm.ScheduleRepeating(bot, &WalkTask{Bot: bot}, 500*time.Millisecond, -1)
//
// Tasks of one bot never run concurrently and run in the order they became
// due. Tasks of a bot whose session ended are skipped.
package swarm

// Version is the swarm version.
const Version = "1.0.0"
