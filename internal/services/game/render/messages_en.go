package render

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

func init() {
	lang := language.English

	message.SetString(lang, "button.register", "Register")
	message.SetString(lang, "button.quick_join", "Quick Join")
	message.SetString(lang, "button.withdraw", "Withdraw")

	message.SetString(lang, "board.waiting_room.title", "Daruma Training: %s")
	message.SetString(lang, "board.waiting_room.capacity", "Players: %d/%d")
	message.SetString(lang, "board.waiting_room.player", "- %s is ready")
	message.SetString(lang, "board.round", "Round %d, roll %d")
	message.SetString(lang, "board.turn.roll", "%s rolls a %d")
	message.SetString(lang, "board.turn.damage", "%s rolls a %d for %d damage")
	message.SetString(lang, "board.turn.total", "%s deals %d, total %d")
	message.SetString(lang, "board.turn.score", "%s: %d")
	message.SetString(lang, "board.turn.reset", "(overshot, back to %d)")
	message.SetString(lang, "board.turn.win", "WINS!")
	message.SetString(lang, "board.maintenance", "This game is paused for maintenance.")

	message.SetString(lang, "result.win", "Training complete in round %d.")
	message.SetString(lang, "result.zen", "Zen! A shared victory in round %d.")
	message.SetString(lang, "result.winner", "%s wins %d KARMA")
	message.SetString(lang, "result.house_winner", "%s wins for the house")
	message.SetString(lang, "result.loser", "%s trained hard")
	message.SetString(lang, "result.cooldown", "(rests %s)")

	message.SetString(lang, ReplyRegistered, "%s has joined the game.")
	message.SetString(lang, ReplyAlreadySeated, "You are already registered in this game.")
	message.SetString(lang, ReplyWithdrawn, "%s has left the game.")
	message.SetString(lang, ReplyNotSeated, "You are not registered in this game.")
	message.SetString(lang, ReplyGameFull, "This game is full.")
	message.SetString(lang, ReplyGameInProgress, "A game is already in progress. Try again after it ends.")
	message.SetString(lang, ReplyNoSession, "There is no game running in this channel. Please contact an operator.")
	message.SetString(lang, ReplyNoPlayable, "You have no assets ready to play.")
	message.SetString(lang, ReplyAssetNotFound, "That asset is not available to you.")
	message.SetString(lang, ReplyAssetOnCooldown, "That asset is resting for another %s.")
	message.SetString(lang, ReplyAssetBusy, "That asset is already training in another channel.")
	message.SetString(lang, ReplyPickAsset, "Pick an asset to train:")
	message.SetString(lang, ReplyFailed, "Something went wrong. Please try again.")
}
